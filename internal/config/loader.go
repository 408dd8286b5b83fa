package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field empty. They mirror
// what a bare deployment next to the recorder expects.
const (
	DefaultWatchDir     = "./recordings"
	DefaultProcessedDir = "./processed"
	DefaultFailedDir    = "./failed"
	DefaultCSVPath      = "transcriptions.csv"
	DefaultConfigPath   = "dispatchscribe.yaml"

	defaultPollIntervalSeconds = 2
	defaultAlertMinutes       = 3
	defaultPushoverPriority   = 1
	defaultCredentialPath     = "active911_credentials.yaml"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the documented environment overrides. These exist so a
// deployment can relocate directories or swap the model without editing the
// config file (the knobs the recorder's install scripts already export).
func applyEnv(cfg *Config) {
	if v := os.Getenv("WATCH_FOLDER"); v != "" {
		cfg.WatchDir = v
	}
	if v := os.Getenv("PROCESSED_FOLDER"); v != "" {
		cfg.ProcessedDir = v
	}
	if v := os.Getenv("OUTPUT_CSV"); v != "" {
		cfg.Ledger.CSVPath = v
	}
	if v := os.Getenv("MODEL_SIZE"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("ACTIVE911_CONFIG"); v != "" {
		cfg.Active911.ConfigPath = v
	}
	if v := os.Getenv("ACTIVE911_ALERT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Active911.AlertMinutes = n
		}
	}
	if v := os.Getenv("ACTIVE911_TOKEN"); v != "" {
		cfg.Active911.StaticToken = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.WatchDir == "" {
		cfg.WatchDir = DefaultWatchDir
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = DefaultProcessedDir
	}
	if cfg.FailedDir == "" {
		cfg.FailedDir = DefaultFailedDir
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.Ledger.CSVPath == "" {
		cfg.Ledger.CSVPath = DefaultCSVPath
	}
	if cfg.Active911.ConfigPath == "" {
		cfg.Active911.ConfigPath = defaultCredentialPath
	}
	if cfg.Active911.AlertMinutes <= 0 {
		cfg.Active911.AlertMinutes = defaultAlertMinutes
	}
	if cfg.Pushover.Priority == 0 {
		cfg.Pushover.Priority = defaultPushoverPriority
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.WatchDir == cfg.ProcessedDir {
		errs = append(errs, fmt.Errorf("watch_dir and processed_dir must differ (%q)", cfg.WatchDir))
	}

	if cfg.Engine.ModelPath == "" && cfg.Engine.ServerURL == "" {
		errs = append(errs, errors.New("engine: either model_path or server_url must be set"))
	}

	if cfg.Pushover.Enabled {
		if cfg.Pushover.APIToken == "" {
			errs = append(errs, errors.New("pushover.api_token is required when pushover.enabled is true"))
		}
		if len(cfg.Pushover.Recipients()) == 0 {
			errs = append(errs, errors.New("pushover.user_keys (or user_key) is required when pushover.enabled is true"))
		}
		for i, rec := range cfg.Pushover.UserKeys {
			if rec.Key == "" {
				errs = append(errs, fmt.Errorf("pushover.user_keys[%d].key is required", i))
			}
		}
	}

	for i, rule := range cfg.ExactCorrections {
		if rule.Wrong == "" {
			errs = append(errs, fmt.Errorf("exact_corrections[%d]: empty phrase", i))
		}
	}

	return errors.Join(errs...)
}
