package cli

import (
	"github.com/spf13/cobra"
)

// encryptCmd seals a message for a receiver DID.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var encryptCmd = &cobra.Command{
	Use:   "encrypt <message> <did>",
	Short: "Encrypt a message for a DID",
	Long: `Encrypt a message for a receiver DID or alias. The envelope is anchored
as a data-DID readable by both sender and receiver; its DID is printed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		did, err := engine.Encrypt(cmd.Context(), []byte(args[0]), args[1])
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// decryptCmd opens a message envelope.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var decryptCmd = &cobra.Command{
	Use:   "decrypt <did>",
	Short: "Decrypt a message envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plaintext, err := engine.Decrypt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Println(string(plaintext))
	},
}

// resolveDIDCmd resolves a DID to its document.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var resolveDIDCmd = &cobra.Command{
	Use:   "resolve-did <did>",
	Short: "Resolve a DID to its document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := engine.ResolveDID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Print(doc)
	},
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(resolveDIDCmd)
}
