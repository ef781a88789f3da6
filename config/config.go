package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"threatgate/core"
	"threatgate/provider"
	"threatgate/report"
)

// EnvPrefix prefixes every environment variable read by the configuration.
const EnvPrefix = "THREATGATE"

// Config holds all configuration for one threatgate invocation.
type Config struct {
	Inputs struct {
		// ThreatModels are processed in order
		ThreatModels []string `mapstructure:"threat_models"`
		Mitigations  string   `mapstructure:"mitigations"`
	} `mapstructure:"inputs"`

	Output struct {
		Dir    string `mapstructure:"dir"`
		Format string `mapstructure:"format"`
	} `mapstructure:"output"`

	Library struct {
		Location  string        `mapstructure:"location"`
		Username  string        `mapstructure:"username"`
		Password  string        `mapstructure:"password"`
		Timeout   time.Duration `mapstructure:"timeout"`
		CacheSize int           `mapstructure:"cache_size"`
		S3Region  string        `mapstructure:"s3_region"`
	} `mapstructure:"library"`

	QualityGate struct {
		// FailOnThreatRisk is a risk name; empty or Undefined disables the gate
		FailOnThreatRisk string `mapstructure:"fail_on_threat_risk"`
	} `mapstructure:"quality_gate"`

	Engine struct {
		// Workers > 1 evaluates elements in parallel
		Workers                int           `mapstructure:"workers"`
		MitigationRegexTimeout time.Duration `mapstructure:"mitigation_regex_timeout"`
	} `mapstructure:"engine"`

	History struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"history"`

	Metrics struct {
		// Textfile receives the Prometheus metrics after the run when set
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault or aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			SecretID  string `mapstructure:"secret_id"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	// Resolved by validateConfig
	Threshold core.ThreatRisk `mapstructure:"-"`
	Format    report.Format   `mapstructure:"-"`
}

// flagBindings maps configuration keys to the CLI flags overriding them.
var flagBindings = map[string]string{
	"inputs.threat_models":             "threatModel",
	"inputs.mitigations":               "mitigations",
	"output.dir":                       "out",
	"output.format":                    "outFormat",
	"library.location":                 "threatsLibrary",
	"library.username":                 "threatsLibraryAccessUsername",
	"library.password":                 "threatsLibraryAccessPassword",
	"quality_gate.fail_on_threat_risk": "failOnThreatRisk",
	"engine.workers":                   "workers",
	"history.path":                     "history",
	"metrics.textfile":                 "metricsFile",
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("inputs.threat_models", []string{})
	v.SetDefault("inputs.mitigations", "")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", string(report.FormatHTML))

	v.SetDefault("library.location", provider.DefaultThreatsLibrary)
	v.SetDefault("library.username", "")
	v.SetDefault("library.password", "")
	v.SetDefault("library.timeout", "30s")
	v.SetDefault("library.cache_size", 16)
	v.SetDefault("library.s3_region", "")

	v.SetDefault("quality_gate.fail_on_threat_risk", "")

	v.SetDefault("engine.workers", 1)
	v.SetDefault("engine.mitigation_regex_timeout", "100ms")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", ".threatgate/history.db")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", "secret/threatgate")
	v.SetDefault("secrets.aws.region", "")
	v.SetDefault("secrets.aws.secret_id", "threatgate/library")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
}

// loadFromEnv maps THREATGATE_SECTION_KEY variables onto section.key.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for key, name := range flagBindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	if flag := flags.Lookup("history"); flag != nil && flag.Changed {
		v.Set("history.enabled", true)
	}
	return nil
}

// Load reads configuration with the precedence flags > environment >
// config file > defaults. configFile may be empty, in which case
// threatgate.yaml is looked up in . and ./config and is optional.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("threatgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, &core.ConfigurationError{Field: "config", Reason: "cannot read configuration file", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &core.ConfigurationError{Field: "config", Reason: "unable to decode configuration", Err: err}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks every section and resolves Threshold and Format.
func validateConfig(cfg *Config) error {
	models := cfg.Inputs.ThreatModels[:0]
	for _, m := range cfg.Inputs.ThreatModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	cfg.Inputs.ThreatModels = models

	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return &core.ConfigurationError{Field: "outFormat", Reason: "unsupported report format", Err: err}
	}
	cfg.Format = format

	if strings.TrimSpace(cfg.Output.Dir) == "" {
		return &core.ConfigurationError{Field: "out", Reason: "output directory cannot be empty"}
	}

	threshold, err := core.ParseThreatRisk(cfg.QualityGate.FailOnThreatRisk)
	if err != nil {
		return &core.ConfigurationError{Field: "failOnThreatRisk", Reason: "unknown threat risk", Err: err}
	}
	cfg.Threshold = threshold

	if strings.TrimSpace(cfg.Library.Location) == "" {
		return &core.ConfigurationError{Field: "threatsLibrary", Reason: "threats library location cannot be empty"}
	}
	if cfg.Library.Password != "" && cfg.Library.Username == "" {
		return &core.ConfigurationError{Field: "threatsLibraryAccessUsername", Reason: "a password was given without a username"}
	}
	if cfg.Library.Timeout <= 0 {
		return &core.ConfigurationError{Field: "library.timeout", Reason: fmt.Sprintf("must be positive, got %s", cfg.Library.Timeout)}
	}
	if cfg.Library.CacheSize < 0 {
		return &core.ConfigurationError{Field: "library.cache_size", Reason: "cannot be negative"}
	}

	if cfg.Engine.Workers < 1 || cfg.Engine.Workers > 256 {
		return &core.ConfigurationError{Field: "workers", Reason: fmt.Sprintf("must be between 1 and 256, got %d", cfg.Engine.Workers)}
	}
	if cfg.Engine.MitigationRegexTimeout <= 0 {
		return &core.ConfigurationError{Field: "engine.mitigation_regex_timeout", Reason: "must be positive"}
	}

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return &core.ConfigurationError{Field: "history", Reason: "history database path cannot be empty"}
	}

	switch cfg.Secrets.Provider {
	case "", "env":
	case "vault":
		if cfg.Secrets.Vault.Address == "" {
			return &core.ConfigurationError{Field: "secrets.vault.address", Reason: "required when the vault provider is used"}
		}
	case "aws":
		if cfg.Secrets.AWS.Region == "" {
			return &core.ConfigurationError{Field: "secrets.aws.region", Reason: "required when the aws provider is used"}
		}
	default:
		return &core.ConfigurationError{Field: "secrets.provider", Reason: fmt.Sprintf("unsupported secret provider %q", cfg.Secrets.Provider)}
	}
	return nil
}

// RequireThreatModels fails when no threat model input was given.
func (c *Config) RequireThreatModels() error {
	if len(c.Inputs.ThreatModels) == 0 {
		return &core.ConfigurationError{Field: "threatModel", Reason: "at least one threat model is required", Err: core.ErrNoThreatModel}
	}
	return nil
}
