package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threatgate/config"
	"threatgate/core"
	"threatgate/detect"
	"threatgate/metrics"
	"threatgate/provider"
	"threatgate/report"
	"threatgate/resource"
	"threatgate/storage"
	"threatgate/util"

	"go.uber.org/zap"
)

// App holds everything needed to process a batch of threat models.
type App struct {
	Config *config.Config
	Sugar  *zap.SugaredLogger

	Fetcher     provider.Fetcher
	Rules       *detect.RuleRepository
	Mitigations []core.Mitigation
	Reporter    report.Reporter
	History     *storage.History

	trace    detect.TraceFunc
	onResult func(ModelResult)
}

// ModelResult is the outcome of processing one threat model.
type ModelResult struct {
	Location   string
	Header     report.Header
	Threats    *core.ThreatsCollection
	Gate       detect.GateResult
	ReportPath string
	Duration   time.Duration
}

// BatchResult collects the models processed by Run.
type BatchResult struct {
	Models []ModelResult
	// GateFailure is the quality gate failure that ended the batch, if any
	GateFailure *core.QualityGateFailed
	// Skipped lists the threat model locations left unprocessed after the
	// batch was stopped
	Skipped []string
}

// Err returns the quality gate failure as an error, or nil.
func (b *BatchResult) Err() error {
	if b == nil || b.GateFailure == nil {
		return nil
	}
	return b.GateFailure
}

// Option customizes an App.
type Option func(*App)

// WithTrace registers an evaluation trace hook on every generator.
func WithTrace(fn detect.TraceFunc) Option {
	return func(a *App) {
		a.trace = fn
	}
}

// WithFetcher replaces the resource locator built from the configuration.
func WithFetcher(fetcher provider.Fetcher) Option {
	return func(a *App) {
		a.Fetcher = fetcher
	}
}

// OnResult is called after each threat model has been processed.
func OnResult(fn func(ModelResult)) Option {
	return func(a *App) {
		a.onResult = fn
	}
}

// NewApp loads the threats library and mitigations, prepares the output
// directory and opens the run history. Any error here is fatal.
func NewApp(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger, opts ...Option) (*App, error) {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	app := &App{Config: cfg, Sugar: sugar}
	for _, opt := range opts {
		opt(app)
	}

	if app.Fetcher == nil {
		locator, err := NewLocator(cfg, sugar)
		if err != nil {
			return nil, &core.ConfigurationError{Field: "library", Reason: "invalid resource settings", Err: err}
		}
		app.Fetcher = locator
	}

	rules, err := LoadThreatsLibrary(ctx, app.Fetcher, cfg.Library.Location, sugar)
	if err != nil {
		return nil, err
	}
	app.Rules = rules

	mitigations, err := LoadMitigations(ctx, app.Fetcher, cfg.Inputs.Mitigations, sugar)
	if err != nil {
		return nil, err
	}
	app.Mitigations = mitigations

	// Compile mitigation patterns once up front
	if _, err := NewEngine(cfg, app.Rules, app.Mitigations, nil, sugar); err != nil {
		return nil, err
	}

	outDir, err := EnsureOutputDirectory(cfg.Output.Dir, sugar)
	if err != nil {
		return nil, err
	}
	reporter, err := report.NewFileReporter(outDir, cfg.Format, sugar)
	if err != nil {
		return nil, err
	}
	app.Reporter = reporter

	history, err := InitHistory(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.History = history

	return app, nil
}

// Run processes the configured threat models in order. Any error stops the
// batch: a fatal error is returned as is, and a quality gate failure is
// returned as a *core.QualityGateFailed once the failing model's report has
// been published. The models completed so far are returned in both cases.
func (a *App) Run(ctx context.Context) (*BatchResult, error) {
	batch := &BatchResult{}
	if err := a.Config.RequireThreatModels(); err != nil {
		return batch, err
	}

	models := a.Config.Inputs.ThreatModels
	for i, location := range models {
		result, err := a.RunModel(ctx, location)
		if err != nil {
			batch.Skipped = append(batch.Skipped, models[i+1:]...)
			return batch, err
		}
		batch.Models = append(batch.Models, *result)
		if a.onResult != nil {
			a.onResult(*result)
		}

		if !result.Gate.Passed {
			metrics.QualityGateFailures.Inc()
			batch.GateFailure = &core.QualityGateFailed{
				ModelName: result.Header.ModelName,
				Threshold: result.Gate.Threshold,
				ThreatIDs: result.Gate.NonCompliant,
			}
			batch.Skipped = append(batch.Skipped, models[i+1:]...)
			if len(batch.Skipped) > 0 {
				a.Sugar.Warnw("Quality gate failed, remaining threat models skipped",
					"model", result.Header.ModelName,
					"skipped", len(batch.Skipped))
			}
			return batch, batch.GateFailure
		}
	}
	return batch, nil
}

// RunModel loads one threat model, generates and mitigates its threats,
// publishes the report and records the run. The quality gate outcome is
// returned in ModelResult.Gate.
func (a *App) RunModel(ctx context.Context, location string) (*ModelResult, error) {
	start := time.Now()
	sugar := a.Sugar.With("model", util.RedactLocation(location))

	model, err := provider.LoadModel(ctx, a.Fetcher, location, sugar)
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(a.Config, a.Rules, a.Mitigations, a.trace, sugar)
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, model)
	if err != nil {
		return nil, err
	}

	header := report.NewHeader(result.Threats)
	if err := a.Reporter.Publish(header, result.Threats.Threats); err != nil {
		return nil, err
	}
	reportPath := ""
	if fr, ok := a.Reporter.(*report.FileReporter); ok {
		reportPath = fr.Path(header)
	}

	if a.History != nil {
		if err := a.History.RecordRun(ctx, header, result.Threats.Threats, result.Gate); err != nil {
			// A failed history write only warns
			sugar.Warnw("Failed to record run history", "run_id", header.RunID, "error", err)
		}
	}

	sugar.Infow("Threat model processed",
		"name", model.Name,
		"elements", len(model.Elements),
		"threats", result.Threats.Len(),
		"gate_passed", result.Gate.Passed,
		"report", reportPath)

	return &ModelResult{
		Location:   location,
		Header:     header,
		Threats:    result.Threats,
		Gate:       result.Gate,
		ReportPath: reportPath,
		Duration:   time.Since(start),
	}, nil
}

// Shutdown closes the run history and writes the metrics textfile.
func (a *App) Shutdown() error {
	var errs []error
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close run history: %w", err))
		}
	}
	if path := a.Config.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		} else {
			a.Sugar.Debugw("Metrics written", "path", path)
		}
	}
	return errors.Join(errs...)
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

var _ provider.Fetcher = (*resource.Locator)(nil)
