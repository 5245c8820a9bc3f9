package cli

import (
	"github.com/spf13/cobra"

	"github.com/macterra/keymaster/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// showQR renders the current DID as a terminal QR code.
	showQR bool
)

// showCmd displays the wallet state.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the wallet state",
	Long: `Show the wallet. JSON output prints the full wallet; text output
prints the identity count, the account counter, and the current identity.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := engine.Wallet()
		if err != nil {
			return err
		}

		if formatter.IsJSON() {
			return formatter.Print(w)
		}

		if err := formatter.Printf("wallet: %d identities, counter %d\n", len(w.IDs), w.Counter); err != nil {
			return err
		}
		if w.Current != "" {
			id := w.IDs[w.Current]
			if err := formatter.Printf("current: %s (%s)\n", w.Current, id.DID); err != nil {
				return err
			}
			if showQR {
				return output.RenderQR(cmd.OutOrStdout(), id.DID, output.DefaultQRConfig())
			}
		} else {
			return formatter.Println("current: (none)")
		}
		return nil
	},
}

// newWalletCmd replaces the wallet.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var newWalletCmd = &cobra.Command{
	Use:   "new-wallet [mnemonic]",
	Short: "Create a fresh wallet, replacing the existing one",
	Long: `Create a fresh wallet from a supplied 12-word recovery phrase, or a
newly generated one. The existing wallet is overwritten unconditionally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic := ""
		if len(args) == 1 {
			mnemonic = args[0]
		}

		w, err := engine.NewWallet(cmd.Context(), mnemonic)
		if err != nil {
			return err
		}

		if formatter.IsJSON() {
			return formatter.Print(w)
		}
		return formatter.Println("wallet created")
	},
}

// showMnemonicCmd prints the recovery phrase.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var showMnemonicCmd = &cobra.Command{
	Use:   "show-mnemonic",
	Short: "Show the wallet's recovery phrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mnemonic, err := engine.ShowMnemonic(cmd.Context())
		if err != nil {
			return err
		}
		return formatter.Println(mnemonic)
	},
}

// backupWalletCmd anchors an encrypted wallet backup.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupWalletCmd = &cobra.Command{
	Use:   "backup-wallet",
	Short: "Anchor an encrypted wallet backup as a data-DID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		did, err := engine.BackupWallet(cmd.Context())
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// recoverWalletCmd restores a wallet from a backup DID.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var recoverWalletCmd = &cobra.Command{
	Use:   "recover-wallet <did>",
	Short: "Restore the wallet from a backup DID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := engine.RecoverWallet(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if formatter.IsJSON() {
			return formatter.Print(w)
		}
		return formatter.Printf("wallet recovered: %d identities\n", len(w.IDs))
	},
}

// versionCmd prints build information.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if formatter.IsJSON() {
			return formatter.Print(buildInfo)
		}
		return formatter.Println(buildInfo.String())
	},
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	showCmd.Flags().BoolVar(&showQR, "qr", false, "render the current DID as a QR code")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(newWalletCmd)
	rootCmd.AddCommand(showMnemonicCmd)
	rootCmd.AddCommand(backupWalletCmd)
	rootCmd.AddCommand(recoverWalletCmd)
	rootCmd.AddCommand(versionCmd)
}
