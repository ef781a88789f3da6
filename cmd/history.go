package cmd

import (
	"context"
	"errors"
	"fmt"

	"threatgate/bootstrap"
	"threatgate/core"
	"threatgate/storage"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the 'history' subcommand
func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		model string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the runs recorded with --history, most recent first, or show the
threats of one run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sugar, cfg, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer sugar.Sync()

			if limit < 0 {
				return &core.ConfigurationError{Field: "limit", Reason: "cannot be negative"}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			history, err := bootstrap.OpenHistory(cfg.History.Path, sugar)
			if err != nil {
				return err
			}
			defer history.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := history.GetRun(ctx, args[0])
				if errors.Is(err, storage.ErrRunNotFound) {
					return fmt.Errorf("run %s not found in %s", args[0], history.Path())
				}
				if err != nil {
					return err
				}
				threats, err := history.RunThreats(ctx, run.RunID)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return outputAsJSON(out, struct {
						*storage.RunRecord
						Threats []storage.ThreatRecord `json:"threats"`
					}{run, threats})
				}
				renderRunDetails(out, run, threats)
				return nil
			}

			runs, err := history.ListRuns(ctx, model, limit)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				if runs == nil {
					runs = []storage.RunRecord{}
				}
				return outputAsJSON(out, runs)
			}
			renderRunsTable(out, runs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&model, "model", "", "Only list runs of this threat model name")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultListLimit, "Maximum number of runs to list")

	return cmd
}
