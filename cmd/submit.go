package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/intake"
)

type submitOptions struct {
	jurisdiction string
	file         string
	mode         string
	force        bool
	stageOnly    bool
}

func newSubmitCmd() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Stage a raw docket payload and process it",
		Long: `Validates a raw docket JSON payload (from --file or stdin), stages it under
its raw key and processes the case in the foreground. With --stage-only the
payload is only staged; run process later to build it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			key, err := docket.ParseJurisdictionKey(opts.jurisdiction)
			if err != nil {
				return err
			}
			mode, err := intake.ParseMode(opts.mode)
			if err != nil {
				return err
			}
			payload, err := readPayload(opts.file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ref, err := a.Stager.Stage(cmd.Context(), intake.Submission{
				Key:     key,
				Payload: payload,
				Mode:    mode,
				Force:   opts.force,
			})
			if err != nil {
				return fmt.Errorf("stage payload: %w", err)
			}
			a.Logger.Info("payload staged", zap.String("case", ref.ID()), zap.String("raw_key", ref.RawKey()))
			if opts.stageOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), ref.RawKey())
				return err
			}
			return runCase(cmd, a, ref)
		},
	}
	cmd.Flags().StringVar(&opts.jurisdiction, "jurisdiction", "", "jurisdiction key, e.g. usa/ca/puc")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "payload file, - for stdin")
	cmd.Flags().StringVar(&opts.mode, "mode", string(intake.ModeReplace), "replace or merge")
	cmd.Flags().BoolVar(&opts.force, "force", false, "reprocess even when the raw payload is unchanged")
	cmd.Flags().BoolVar(&opts.stageOnly, "stage-only", false, "stage without processing")
	_ = cmd.MarkFlagRequired("jurisdiction")
	return cmd
}
