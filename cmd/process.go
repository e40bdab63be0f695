package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docket-pipeline/internal/app"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

type processOptions struct {
	jurisdiction string
	govID        string
	force        bool
}

func newProcessCmd() *cobra.Command {
	opts := &processOptions{}
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one staged case in the foreground",
		Long: `Runs the coordinator for a case whose raw payload is already staged and
prints the outcome as JSON. Use --force to rebuild a case whose raw payload
has not changed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			key, err := docket.ParseJurisdictionKey(opts.jurisdiction)
			if err != nil {
				return err
			}
			ref := docket.CaseRef{Key: key, GovID: opts.govID, Force: opts.force}
			return runCase(cmd, a, ref)
		},
	}
	cmd.Flags().StringVar(&opts.jurisdiction, "jurisdiction", "", "jurisdiction key, e.g. usa/ca/puc")
	cmd.Flags().StringVar(&opts.govID, "govid", "", "case government id")
	cmd.Flags().BoolVar(&opts.force, "force", false, "reprocess even when the raw payload is unchanged")
	_ = cmd.MarkFlagRequired("jurisdiction")
	_ = cmd.MarkFlagRequired("govid")
	return cmd
}

// runCase processes ref synchronously and reports a failed outcome as a
// command error.
func runCase(cmd *cobra.Command, a *app.App, ref docket.CaseRef) error {
	out := a.Coordinator.Process(cmd.Context(), ref)
	if err := writeOutcome(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.Status == docket.OutcomeFailed {
		return fmt.Errorf("case %s failed: %s", ref.ID(), out.Reason)
	}
	return nil
}

func writeOutcome(w io.Writer, out docket.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" || path == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
