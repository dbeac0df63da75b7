package main

import (
	"os"

	"github.com/spf13/cobra"

	"trustmesh/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trustmesh",
		Short: "local web-of-trust message store",
	}
	rootCmd.AddCommand(cli.KeysCmd)
	rootCmd.AddCommand(cli.MessagesCmd)
	rootCmd.AddCommand(cli.TrustCmd)
	rootCmd.AddCommand(cli.ServeCmd)

	err := rootCmd.Execute()
	cli.CloseStore()
	if err != nil {
		os.Exit(1)
	}
}
