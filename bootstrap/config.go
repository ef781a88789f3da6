package bootstrap

import (
	"io"
	"os"

	"threatgate/config"
	"threatgate/util"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerOptions selects the verbosity of the console logger.
type LoggerOptions struct {
	// Quiet only lets warnings and errors through
	Quiet bool
	// Debug enables debug output, including evaluation traces
	Debug bool
	// NoColor disables ANSI level colors
	NoColor bool
	// Output defaults to os.Stderr so reports on stdout stay clean
	Output io.Writer
}

// Level returns the minimum level implied by the options. Debug wins over Quiet.
func (o LoggerOptions) Level() zapcore.Level {
	switch {
	case o.Debug:
		return zapcore.DebugLevel
	case o.Quiet:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger initializes the zap logger with colored console output.
func InitLogger(opts LoggerOptions) (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.NoColor {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(out),
		opts.Level(),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads and validates the configuration, then fills in library
// credentials from the configured secret store.
func InitConfig(configFile string, flags *pflag.FlagSet, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := config.LoadSecrets(cfg, sugar); err != nil {
		return nil, err
	}

	sugar.Debugw("Config loaded",
		"threat_models", len(cfg.Inputs.ThreatModels),
		"threats_library", util.RedactLocation(cfg.Library.Location),
		"out", cfg.Output.Dir,
		"format", cfg.Format,
		"fail_on_threat_risk", cfg.Threshold,
		"workers", cfg.Engine.Workers,
		"history", cfg.History.Enabled)

	return cfg, nil
}
