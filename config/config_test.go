package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatgate/core"
	"threatgate/provider"
	"threatgate/report"
)

// chdir moves into an empty directory so no threatgate.yaml is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("threatgate", pflag.ContinueOnError)
	flags.StringSlice("threatModel", nil, "")
	flags.String("mitigations", "", "")
	flags.String("out", ".", "")
	flags.String("outFormat", "html", "")
	flags.String("threatsLibrary", provider.DefaultThreatsLibrary, "")
	flags.String("threatsLibraryAccessUsername", "", "")
	flags.String("threatsLibraryAccessPassword", "", "")
	flags.String("failOnThreatRisk", "", "")
	flags.Int("workers", 1, "")
	flags.String("history", "", "")
	flags.String("metricsFile", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.Inputs.ThreatModels)
	assert.Equal(t, ".", cfg.Output.Dir)
	assert.Equal(t, report.FormatHTML, cfg.Format)
	assert.Equal(t, provider.DefaultThreatsLibrary, cfg.Library.Location)
	assert.Equal(t, 30*time.Second, cfg.Library.Timeout)
	assert.Equal(t, 16, cfg.Library.CacheSize)
	assert.Equal(t, core.RiskUndefined, cfg.Threshold)
	assert.Equal(t, 1, cfg.Engine.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.MitigationRegexTimeout)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, "env", cfg.Secrets.Provider)

	assert.ErrorIs(t, cfg.RequireThreatModels(), core.ErrNoThreatModel)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdir(t)
	content := `
inputs:
  threat_models: [models/shop.yml, models/payments.yml]
output:
  dir: reports
  format: json
quality_gate:
  fail_on_threat_risk: high
engine:
  workers: 4
  mitigation_regex_timeout: 250ms
history:
  enabled: true
  path: runs.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "threatgate.yaml"), []byte(content), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"models/shop.yml", "models/payments.yml"}, cfg.Inputs.ThreatModels)
	assert.Equal(t, "reports", cfg.Output.Dir)
	assert.Equal(t, report.FormatJSON, cfg.Format)
	assert.Equal(t, core.RiskHigh, cfg.Threshold)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.MitigationRegexTimeout)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "runs.db", cfg.History.Path)
	assert.NoError(t, cfg.RequireThreatModels())
}

func TestLoad_ExplicitConfigFileMissing(t *testing.T) {
	chdir(t)
	_, err := Load("does-not-exist.yaml", nil)
	assert.ErrorIs(t, err, &core.ConfigurationError{Field: "config"})
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "threatgate.yaml"), []byte("output:\n  format: json\n"), 0o600))

	t.Setenv("THREATGATE_OUTPUT_FORMAT", "yaml")
	t.Setenv("THREATGATE_INPUTS_THREAT_MODELS", "a.yml,b.yml")
	t.Setenv("THREATGATE_LIBRARY_USERNAME", "ci")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, report.FormatYAML, cfg.Format)
	assert.Equal(t, []string{"a.yml", "b.yml"}, cfg.Inputs.ThreatModels)
	assert.Equal(t, "ci", cfg.Library.Username)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	chdir(t)
	t.Setenv("THREATGATE_OUTPUT_FORMAT", "yaml")

	flags := testFlags(t,
		"--threatModel", "shop.yml",
		"--threatModel", "payments.yml",
		"--outFormat", "msgpack",
		"--failOnThreatRisk", "Critical",
		"--workers", "8",
		"--history", "h.db",
	)

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.yml", "payments.yml"}, cfg.Inputs.ThreatModels)
	assert.Equal(t, report.FormatMsgpack, cfg.Format)
	assert.Equal(t, core.RiskCritical, cfg.Threshold)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "h.db", cfg.History.Path)
}

func TestLoad_UnchangedFlagsKeepEnvironment(t *testing.T) {
	chdir(t)
	t.Setenv("THREATGATE_OUTPUT_FORMAT", "yaml")

	cfg, err := Load("", testFlags(t))
	require.NoError(t, err)
	assert.Equal(t, report.FormatYAML, cfg.Format)
	assert.False(t, cfg.History.Enabled)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdir(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "unknown format", mutate: func(c *Config) { c.Output.Format = "pdf" }, field: "outFormat"},
		{name: "empty out dir", mutate: func(c *Config) { c.Output.Dir = " " }, field: "out"},
		{name: "unknown risk", mutate: func(c *Config) { c.QualityGate.FailOnThreatRisk = "severe" }, field: "failOnThreatRisk"},
		{name: "empty library", mutate: func(c *Config) { c.Library.Location = "" }, field: "threatsLibrary"},
		{name: "password without user", mutate: func(c *Config) { c.Library.Password = "x" }, field: "threatsLibraryAccessUsername"},
		{name: "zero timeout", mutate: func(c *Config) { c.Library.Timeout = 0 }, field: "library.timeout"},
		{name: "negative cache", mutate: func(c *Config) { c.Library.CacheSize = -1 }, field: "library.cache_size"},
		{name: "zero workers", mutate: func(c *Config) { c.Engine.Workers = 0 }, field: "workers"},
		{name: "too many workers", mutate: func(c *Config) { c.Engine.Workers = 1000 }, field: "workers"},
		{name: "zero regex timeout", mutate: func(c *Config) { c.Engine.MitigationRegexTimeout = 0 }, field: "engine.mitigation_regex_timeout"},
		{name: "history without path", mutate: func(c *Config) { c.History.Enabled = true; c.History.Path = "" }, field: "history"},
		{name: "vault without address", mutate: func(c *Config) { c.Secrets.Provider = "vault" }, field: "secrets.vault.address"},
		{name: "aws without region", mutate: func(c *Config) { c.Secrets.Provider = "aws" }, field: "secrets.aws.region"},
		{name: "unknown provider", mutate: func(c *Config) { c.Secrets.Provider = "gcp" }, field: "secrets.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := validateConfig(cfg)
			assert.ErrorIs(t, err, &core.ConfigurationError{Field: tt.field})
		})
	}
}

func TestValidateConfig_TrimsThreatModels(t *testing.T) {
	cfg := validConfig(t)
	cfg.Inputs.ThreatModels = []string{" a.yml ", "", "b.yml"}
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, []string{"a.yml", "b.yml"}, cfg.Inputs.ThreatModels)
}
