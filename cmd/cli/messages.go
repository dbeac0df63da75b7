package cli

import (
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"trustmesh/core"
)

// MessagesCmd groups message ingest and listing routes.
var MessagesCmd = &cobra.Command{
	Use:               "msg",
	Short:             "store, list, and publish messages",
	PersistentPreRunE: initMiddleware,
}

func renderMsg(msg *core.Message) map[string]any {
	return map[string]any{
		"hash":      msg.Hash(),
		"data":      json.RawMessage(msg.Canonical()),
		"published": msg.Published,
		"priority":  msg.Priority,
		"isLatest":  msg.IsLatest,
	}
}

func printMsgList(msgs []*core.Message) error {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, renderMsg(m))
	}
	return printJSON(out)
}

func init() {
	count := &cobra.Command{
		Use:   "count",
		Short: "number of stored messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := store.MessageCount()
			if err != nil {
				return err
			}
			return printJSON(n)
		},
	}

	idCount := &cobra.Command{
		Use:   "idcount",
		Short: "number of distinct identifiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := store.IdentifierCount()
			if err != nil {
				return err
			}
			return printJSON(n)
		},
	}

	get := &cobra.Command{
		Use:   "get [hash]",
		Short: "fetch a message by hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := store.GetMessageByHash(args[0])
			if err != nil {
				return err
			}
			return printJSON(renderMsg(msg))
		},
	}

	byAuthor := &cobra.Command{
		Use:   "byauthor [predicate] [value]",
		Short: "list messages by author identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := store.GetMessagesByAuthor(identifierArg(args[0], args[1]), filterFromFlags(cmd))
			if err != nil {
				return err
			}
			return printMsgList(msgs)
		},
	}
	addFilterFlags(byAuthor)

	byRecipient := &cobra.Command{
		Use:   "byrecipient [predicate] [value]",
		Short: "list messages by recipient identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := store.GetMessagesByRecipient(identifierArg(args[0], args[1]), filterFromFlags(cmd))
			if err != nil {
				return err
			}
			return printMsgList(msgs)
		},
	}
	addFilterFlags(byRecipient)

	latest := &cobra.Command{
		Use:   "latest",
		Short: "list the most recent messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs, err := store.GetLatestMessages(filterFromFlags(cmd))
			if err != nil {
				return err
			}
			return printMsgList(msgs)
		},
	}
	addFilterFlags(latest)

	after := &cobra.Command{
		Use:   "after [unix-timestamp]",
		Short: "list messages created after a timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			msgs, err := store.GetMessagesAfterTimestamp(ts, filterFromFlags(cmd))
			if err != nil {
				return err
			}
			return printMsgList(msgs)
		},
	}
	addFilterFlags(after)

	save := &cobra.Command{
		Use:   "save [canonical-json]",
		Short: "ingest a message from canonical bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			publish, _ := cmd.Flags().GetBool("publish")
			sign, _ := cmd.Flags().GetBool("sign")
			hash, err := store.SaveMessageFromData([]byte(args[0]), publish, sign)
			if err != nil {
				return err
			}
			return printJSON(hash)
		},
	}
	save.Flags().Bool("publish", true, "mark published and relay")
	save.Flags().Bool("sign", true, "sign with the default key when unsigned")

	rate := &cobra.Command{
		Use:   "rate [predicate] [value] [rating]",
		Short: "rate an identifier from the default key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			comment, _ := cmd.Flags().GetString("comment")
			publish, _ := cmd.Flags().GetBool("publish")
			hash, err := store.Rate(identifierArg(args[0], args[1]), rating, comment, publish)
			if err != nil {
				return err
			}
			return printJSON(hash)
		},
	}
	rate.Flags().String("comment", "", "rating comment")
	rate.Flags().Bool("publish", true, "mark published and relay")

	connect := &cobra.Command{
		Use:   "connect [pred1] [val1] [pred2] [val2]",
		Short: "confirm a connection between two identifiers",
		Args:  cobra.ExactArgs(4),
		RunE:  runConnection(true),
	}
	connect.Flags().Bool("publish", true, "mark published and relay")

	refute := &cobra.Command{
		Use:   "refute [pred1] [val1] [pred2] [val2]",
		Short: "refute a connection between two identifiers",
		Args:  cobra.ExactArgs(4),
		RunE:  runConnection(false),
	}
	refute.Flags().Bool("publish", true, "mark published and relay")

	del := &cobra.Command{
		Use:   "delete [hash]",
		Short: "drop a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.DropMessage(args[0])
		},
	}

	publish := &cobra.Command{
		Use:   "publish [hash]",
		Short: "mark a message published and relay it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.Publish(args[0])
		},
	}

	MessagesCmd.AddCommand(count, idCount, get, byAuthor, byRecipient, latest, after, save, rate, connect, refute, del, publish)
}

func runConnection(confirm bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		publish, _ := cmd.Flags().GetBool("publish")
		key, err := store.DefaultKey()
		if err != nil {
			return err
		}
		author := core.Identifier{Predicate: "keyID", Value: key.KeyID}
		id1 := identifierArg(args[0], args[1])
		id2 := identifierArg(args[2], args[3])
		var hash string
		if confirm {
			hash, err = store.SaveConnection(author, id1, id2, publish)
		} else {
			hash, err = store.RefuteConnection(author, id1, id2, publish)
		}
		if err != nil {
			return err
		}
		return printJSON(hash)
	}
}
