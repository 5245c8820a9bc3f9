package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/macterra/keymaster/internal/keymaster"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// readJSONArg reads a JSON document from an inline argument or, when the
// argument names an existing file, from that file.
func readJSONArg(arg string) (json.RawMessage, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg) // #nosec G304 -- path supplied by the operator
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		return data, nil
	}
	return json.RawMessage(arg), nil
}

// createSchemaCmd anchors a credential schema.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var createSchemaCmd = &cobra.Command{
	Use:   "create-schema <schema>",
	Short: "Anchor a JSON Schema as a data-DID",
	Long:  `Anchor a credential schema, given inline or as a file path.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := readJSONArg(args[0])
		if err != nil {
			return err
		}
		did, err := engine.CreateSchema(cmd.Context(), schema)
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// bindCredentialCmd shapes an unsigned credential for a subject.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var bindCredentialCmd = &cobra.Command{
	Use:   "bind-credential <schema-did> <subject-did>",
	Short: "Shape an unsigned credential for a subject",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vc, err := engine.BindCredential(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return formatter.Print(vc)
	},
}

// attestCredentialCmd signs and delivers a bound credential.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var attestCredentialCmd = &cobra.Command{
	Use:   "attest-credential <vc>",
	Short: "Sign a bound credential and deliver it to the subject",
	Long:  `Sign a bound credential (inline JSON or a file path) and deliver it encrypted to the subject.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readJSONArg(args[0])
		if err != nil {
			return err
		}

		var vc keymaster.VerifiableCredential
		if err := json.Unmarshal(raw, &vc); err != nil {
			return kmerr.Wrap(err, "parsing credential")
		}

		did, err := engine.AttestCredential(cmd.Context(), &vc)
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// acceptCredentialCmd accepts an attestation as subject.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var acceptCredentialCmd = &cobra.Command{
	Use:   "accept-credential <did>",
	Short: "Accept an attestation addressed to the current identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := engine.AcceptCredential(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return kmerr.WithDetails(kmerr.ErrInvalidVC, map[string]string{"did": args[0]})
		}
		return formatter.Println("accepted")
	},
}

// revokeCredentialCmd deactivates an issued attestation.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var revokeCredentialCmd = &cobra.Command{
	Use:   "revoke-credential <did>",
	Short: "Revoke an attestation issued by the current identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := engine.RevokeCredential(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return formatter.Println("already revoked or not controlled")
		}
		return formatter.Println("revoked")
	},
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var publishReveal bool

// publishCredentialCmd writes a credential into the identity's manifest.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var publishCredentialCmd = &cobra.Command{
	Use:   "publish-credential <did>",
	Short: "Publish a held credential in the identity's DID document",
	Long: `Publish a held credential in the current identity's document manifest.
Without --reveal the credential payload is redacted, proving possession
without disclosure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.PublishCredential(cmd.Context(), args[0], publishReveal); err != nil {
			return err
		}
		return formatter.Println("published")
	},
}

// unpublishCredentialCmd removes a credential from the manifest.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var unpublishCredentialCmd = &cobra.Command{
	Use:   "unpublish-credential <did>",
	Short: "Remove a credential from the identity's manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := engine.UnpublishCredential(cmd.Context(), args[0]); err != nil {
			return err
		}
		return formatter.Println("unpublished")
	},
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	publishCredentialCmd.Flags().BoolVar(&publishReveal, "reveal", false, "publish the credential payload unredacted")

	rootCmd.AddCommand(createSchemaCmd)
	rootCmd.AddCommand(bindCredentialCmd)
	rootCmd.AddCommand(attestCredentialCmd)
	rootCmd.AddCommand(acceptCredentialCmd)
	rootCmd.AddCommand(revokeCredentialCmd)
	rootCmd.AddCommand(publishCredentialCmd)
	rootCmd.AddCommand(unpublishCredentialCmd)
}
