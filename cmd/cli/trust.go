package cli

import (
	"github.com/spf13/cobra"

	"trustmesh/core"
)

// TrustCmd groups trust graph and identity routes.
var TrustCmd = &cobra.Command{
	Use:               "trust",
	Short:             "query the trust graph and identity clusters",
	PersistentPreRunE: initMiddleware,
}

func init() {
	distance := &cobra.Command{
		Use:   "distance [pred1] [val1] [pred2] [val2]",
		Short: "minimum trust distance between two identifiers (-1 if none)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := store.TrustDistance(identifierArg(args[0], args[1]), identifierArg(args[2], args[3]))
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}

	paths := &cobra.Command{
		Use:   "paths [pred1] [val1] [pred2] [val2]",
		Short: "enumerate trust paths between two identifiers",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")
			out, err := store.GetPaths(identifierArg(args[0], args[1]), identifierArg(args[2], args[3]), depth)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	paths.Flags().Int("depth", 3, "maximum path length")

	generate := &cobra.Command{
		Use:   "generate [predicate] [value]",
		Short: "regenerate the trust map from a viewpoint",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")
			if len(args) == 2 {
				return store.GenerateTrustMap(identifierArg(args[0], args[1]), depth)
			}
			for _, keyID := range store.MyKeyIDs() {
				store.AddToTrustMapQueue(core.Identifier{Predicate: "keyID", Value: keyID}, depth)
			}
			return nil
		},
	}
	generate.Flags().Int("depth", 0, "closure depth (0 = configured default)")

	mapSize := &cobra.Command{
		Use:   "mapsize [predicate] [value]",
		Short: "number of identifiers reachable from a viewpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := store.TrustMapSize(identifierArg(args[0], args[1]))
			if err != nil {
				return err
			}
			return printJSON(n)
		},
	}

	connections := &cobra.Command{
		Use:   "connections [predicate] [value]",
		Short: "identity cluster of an identifier with tallies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := filterFromFlags(cmd)
			links, err := store.Connections(identifierArg(args[0], args[1]), f.Viewpoint, f.MaxDistance, f.Limit, f.Offset)
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(links))
			for _, l := range links {
				out = append(out, map[string]any{
					"predicate":     l.ID.Predicate,
					"value":         l.ID.Value,
					"confirmations": l.Confirmations,
					"refutations":   l.Refutations,
				})
			}
			return printJSON(out)
		},
	}
	addFilterFlags(connections)

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "search identifiers by value substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := filterFromFlags(cmd)
			predicate, _ := cmd.Flags().GetString("predicate")
			results, err := store.SearchForID(args[0], predicate, f.Viewpoint, f.Limit, f.Offset)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	search.Flags().String("predicate", "", "restrict to one predicate")
	addFilterFlags(search)

	overview := &cobra.Command{
		Use:   "overview [predicate] [value]",
		Short: "rating overview for an identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := filterFromFlags(cmd)
			o, err := store.GetIDOverview(identifierArg(args[0], args[1]), f.Viewpoint, f.MaxDistance)
			if err != nil {
				return err
			}
			return printJSON(o)
		},
	}
	addFilterFlags(overview)

	queueLen := &cobra.Command{
		Use:   "queue",
		Short: "pending trust-map regeneration count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(store.TrustMapQueueLen())
		},
	}
	TrustCmd.AddCommand(distance, paths, generate, mapSize, connections, search, overview, queueLen)
}
