// Package cmd provides the threatgate command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"threatgate/bootstrap"
	"threatgate/config"
	"threatgate/core"
	"threatgate/provider"
	"threatgate/report"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is overridden at build time with -ldflags "-X threatgate/cmd.Version=...".
var Version = "dev"

// Process exit codes.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitGateFailure = 2
)

// rootOptions holds the flags that are not part of config.Config.
type rootOptions struct {
	configFile string
	noColor    bool
	quiet      bool
	explain    bool
	jsonOut    bool
}

// NewRootCmd creates the threatgate command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "threatgate",
		Short: "Generate threats from a threat model and enforce a risk quality gate",
		Long: `threatgate evaluates the rules of a threats library against every element of
one or more threat models, applies known mitigations, writes a threat report
per model and fails when unmitigated threats reach the configured risk.

Exit codes: 0 success, 1 fatal error, 2 quality gate failed.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringArray("threatModel", nil, "Threat model location (repeatable, required)")
	flags.String("mitigations", "", "Mitigations file location")
	flags.String("out", ".", "Directory the reports are written to")
	flags.String("outFormat", string(report.FormatHTML), fmt.Sprintf("Report format %v", report.Formats()))
	flags.String("failOnThreatRisk", "", "Fail when unmitigated threats reach this risk (Low, Medium, High, Critical)")
	flags.Int("workers", 1, "Elements evaluated in parallel per threat model")
	flags.String("metricsFile", "", "Write Prometheus metrics to this file after the run")
	flags.BoolVar(&opts.explain, "explain", false, "Log the evaluation trace of every rule (debug output)")

	persistent := rootCmd.PersistentFlags()
	persistent.String("threatsLibrary", provider.DefaultThreatsLibrary, "Threats library location (classpath:, file, http(s), s3)")
	persistent.String("threatsLibraryAccessUsername", "", "Username for a protected threats library")
	persistent.String("threatsLibraryAccessPassword", "", "Password for a protected threats library")
	persistent.String("history", "", "Record runs in this SQLite database")
	persistent.StringVar(&opts.configFile, "config", "", "Config file (default ./threatgate.yaml if present)")
	persistent.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	persistent.BoolVar(&opts.quiet, "quiet", false, "Only log warnings and errors")

	rootCmd.AddCommand(newRulesCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))

	return rootCmd
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	rootCmd := NewRootCmd()
	ctx, cancel := bootstrap.SignalContext(context.Background())
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		renderError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var gateErr *core.QualityGateFailed
	if errors.As(err, &gateErr) {
		return ExitGateFailure
	}
	return ExitFatal
}

// setup builds the logger and the configuration shared by all commands.
func setup(cmd *cobra.Command, opts *rootOptions) (*zap.SugaredLogger, *config.Config, error) {
	_, sugar, err := bootstrap.InitLogger(bootstrap.LoggerOptions{
		Quiet:   opts.quiet,
		Debug:   opts.explain,
		NoColor: opts.noColor,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := bootstrap.InitConfig(opts.configFile, cmd.Flags(), sugar)
	if err != nil {
		return nil, nil, err
	}
	return sugar, cfg, nil
}

func runGenerate(cmd *cobra.Command, opts *rootOptions) error {
	sugar, cfg, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer sugar.Sync()

	if err := cfg.RequireThreatModels(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	appOpts := []bootstrap.Option{
		bootstrap.OnResult(func(r bootstrap.ModelResult) {
			renderModelResult(out, r)
		}),
	}
	if opts.explain {
		appOpts = append(appOpts, bootstrap.WithTrace(bootstrap.ExplainTrace(sugar)))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s := newSpinner(cmd.ErrOrStderr(), opts, " Loading threats library...")
	app, err := bootstrap.NewApp(ctx, cfg, sugar, appOpts...)
	stopSpinner(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			sugar.Warnw("Shutdown incomplete", "error", err)
		}
	}()

	start := time.Now()
	batch, err := app.Run(ctx)
	var gateErr *core.QualityGateFailed
	if err != nil && !errors.As(err, &gateErr) {
		return err
	}

	renderBatchSummary(out, batch, time.Since(start))
	return err
}

func newSpinner(w io.Writer, opts *rootOptions, suffix string) *spinner.Spinner {
	if opts.quiet || opts.explain {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
