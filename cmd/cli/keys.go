package cli

import (
	"github.com/spf13/cobra"
)

// KeysCmd groups key management routes.
var KeysCmd = &cobra.Command{
	Use:               "keys",
	Short:             "manage local signing keys",
	PersistentPreRunE: initMiddleware,
}

func init() {
	list := &cobra.Command{
		Use:   "list",
		Short: "list locally-owned keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := store.MyKeys()
			if err != nil {
				return err
			}
			return printJSON(keys)
		},
	}

	newKey := &cobra.Command{
		Use:   "new",
		Short: "generate and store a fresh keypair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := store.NewKey()
			if err != nil {
				return err
			}
			return printJSON(key)
		},
	}

	importKey := &cobra.Command{
		Use:   "import [base58-secret]",
		Short: "import a private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setDefault, _ := cmd.Flags().GetBool("default")
			key, err := store.ImportPrivKey(args[0], setDefault)
			if err != nil {
				return err
			}
			logger.Infof("imported key %s", key.KeyID)
			return printJSON(key)
		},
	}
	importKey.Flags().Bool("default", false, "make this the default signing key")

	setDefault := &cobra.Command{
		Use:   "setdefault [base58-secret]",
		Short: "select the default signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.SetDefaultKey(args[0])
		},
	}

	KeysCmd.AddCommand(list, newKey, importKey, setDefault)
}
