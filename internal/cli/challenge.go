package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/macterra/keymaster/internal/keymaster"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// createChallengeCmd anchors a challenge.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var createChallengeCmd = &cobra.Command{
	Use:   "create-challenge <challenge>",
	Short: "Anchor a credential challenge as a data-DID",
	Long: `Anchor a challenge (inline JSON or a file path) of the form
{"credentials":[{"schema":"did:mdip:...","attestors":["did:mdip:..."]}]}.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readJSONArg(args[0])
		if err != nil {
			return err
		}

		var challenge keymaster.Challenge
		if err := json.Unmarshal(raw, &challenge); err != nil {
			return kmerr.Wrap(err, "parsing challenge")
		}

		did, err := engine.CreateChallenge(cmd.Context(), &challenge)
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// issueChallengeCmd binds a challenge to a subject.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var issueChallengeCmd = &cobra.Command{
	Use:   "issue-challenge <challenge-did> <subject-did>",
	Short: "Issue a challenge to a subject",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		did, err := engine.IssueChallenge(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// createResponseCmd answers a bound challenge.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var createResponseCmd = &cobra.Command{
	Use:   "create-response <challenge-did>",
	Short: "Answer a bound challenge with matching held credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		did, err := engine.CreateResponse(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Println(did)
	},
}

// verifyResponseCmd checks a presentation.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var verifyResponseCmd = &cobra.Command{
	Use:   "verify-response <response-did>",
	Short: "Verify a challenge response and print the surviving credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verified, err := engine.VerifyResponse(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Print(verified)
	},
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	rootCmd.AddCommand(createChallengeCmd)
	rootCmd.AddCommand(issueChallengeCmd)
	rootCmd.AddCommand(createResponseCmd)
	rootCmd.AddCommand(verifyResponseCmd)
}
