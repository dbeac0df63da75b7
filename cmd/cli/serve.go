package cli

import (
	"github.com/spf13/cobra"

	"trustmesh/rpcserver"
)

// ServeCmd runs the HTTP RPC surface against the local store.
var ServeCmd = &cobra.Command{
	Use:               "serve",
	Short:             "serve the JSON command surface over HTTP",
	PersistentPreRunE: initMiddleware,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.RPC.ListenAddr
		}
		srv := rpcserver.New(store, logger)
		return srv.ListenAndServe(addr)
	},
}

func init() {
	ServeCmd.Flags().String("addr", "", "listen address (default from config)")
}
