package cli

import (
	"github.com/spf13/cobra"
)

// createIDCmd creates a new identity.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var createIDCmd = &cobra.Command{
	Use:   "create-id <name>",
	Short: "Create a new identity and select it as current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		did, err := engine.CreateID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// listCmd lists identities.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := engine.ListIDs(cmd.Context())
		if err != nil {
			return err
		}

		if formatter.IsJSON() {
			return formatter.Print(infos)
		}

		for _, info := range infos {
			marker := " "
			if info.Current {
				marker = "*"
			}
			if err := formatter.Printf("%s %s  %s\n", marker, info.Name, info.DID); err != nil {
				return err
			}
		}
		return nil
	},
}

// useCmd selects the current identity.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var useCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Select the current identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.UseID(cmd.Context(), args[0]); err != nil {
			return err
		}
		return formatter.Printf("using %s\n", args[0])
	},
}

// removeIDCmd removes an identity from the wallet.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var removeIDCmd = &cobra.Command{
	Use:   "remove-id <name>",
	Short: "Remove an identity from the wallet",
	Long: `Remove an identity's local state. The DID itself remains in the
registry; only the wallet's key-derivation record is dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.RemoveID(cmd.Context(), args[0]); err != nil {
			return err
		}
		return formatter.Printf("removed %s\n", args[0])
	},
}

// rotateKeysCmd rotates the current identity's key.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var rotateKeysCmd = &cobra.Command{
	Use:   "rotate-keys",
	Short: "Rotate the current identity's signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := engine.RotateKeys(cmd.Context()); err != nil {
			return err
		}
		return formatter.Println("keys rotated")
	},
}

// backupIDCmd stores the current identity in a vault DID.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupIDCmd = &cobra.Command{
	Use:   "backup-id",
	Short: "Store the current identity in an encrypted vault DID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		did, err := engine.BackupID(cmd.Context())
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// recoverIDCmd reconstructs an identity from its vault.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var recoverIDCmd = &cobra.Command{
	Use:   "recover-id <did>",
	Short: "Recover an identity from its vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := engine.RecoverID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Printf("recovered %s\n", name)
	},
}

// addNameCmd registers a DID alias.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var addNameCmd = &cobra.Command{
	Use:   "add-name <name> <did>",
	Short: "Register an alias for a DID",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.AddName(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		return formatter.Printf("added %s\n", args[0])
	},
}

// removeNameCmd drops a DID alias.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var removeNameCmd = &cobra.Command{
	Use:   "remove-name <name>",
	Short: "Remove a DID alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.RemoveName(cmd.Context(), args[0]); err != nil {
			return err
		}
		return formatter.Printf("removed %s\n", args[0])
	},
}

// listNamesCmd lists DID aliases.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var listNamesCmd = &cobra.Command{
	Use:   "list-names",
	Short: "List DID aliases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		names, err := engine.ListNames(cmd.Context())
		if err != nil {
			return err
		}

		if formatter.IsJSON() {
			return formatter.Print(names)
		}
		for _, n := range names {
			if err := formatter.Printf("%s  %s\n", n.Name, n.DID); err != nil {
				return err
			}
		}
		return nil
	},
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	rootCmd.AddCommand(createIDCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(removeIDCmd)
	rootCmd.AddCommand(rotateKeysCmd)
	rootCmd.AddCommand(backupIDCmd)
	rootCmd.AddCommand(recoverIDCmd)
	rootCmd.AddCommand(addNameCmd)
	rootCmd.AddCommand(removeNameCmd)
	rootCmd.AddCommand(listNamesCmd)
}
