// Package config defines the YAML configuration schema for dispatchscribe
// and the loader that turns it into one validated, read-only value passed
// into every component. No component reads process environment or globals
// directly; the documented environment overrides are applied here, once, at
// load time.
package config

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// LogLevel is the slog level name used in the config file.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised level names.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Level converts l to a slog.Level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration object.
type Config struct {
	Server ServerConfig `yaml:"server"`

	// WatchDir is scanned for new recordings; ProcessedDir receives them
	// after a successful run. Presence in ProcessedDir is what marks a
	// recording as done, so both must survive restarts.
	WatchDir     string `yaml:"watch_dir"`
	ProcessedDir string `yaml:"processed_dir"`

	// FailedDir receives recordings that repeatedly fail transcription.
	FailedDir string `yaml:"failed_dir"`

	// PollIntervalSeconds is the sleep between scan passes.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	Engine EngineConfig `yaml:"engine"`
	Ledger LedgerConfig `yaml:"ledger"`

	// ExactCorrections are applied in the order configured; later rules see
	// the output of earlier ones.
	ExactCorrections CorrectionRules `yaml:"exact_corrections"`

	// PlaceNames is the ordered candidate set for fuzzy correction.
	PlaceNames []string `yaml:"place_names"`

	// PromptVocabulary biases the engine toward local names and radio jargon.
	PromptVocabulary string `yaml:"prompt_vocabulary"`

	// StripDispatcherHeaders enables removal of the leading dispatcher
	// announcement. Defaults to true when absent.
	StripDispatcherHeaders *bool `yaml:"strip_dispatcher_headers"`

	Pushover  PushoverConfig  `yaml:"pushover"`
	Active911 Active911Config `yaml:"active911"`
}

// StripHeaders resolves the StripDispatcherHeaders tri-state to its default.
func (c *Config) StripHeaders() bool {
	return c.StripDispatcherHeaders == nil || *c.StripDispatcherHeaders
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel sets the slog default level. Valid: debug, info, warn, error.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address of the Prometheus /metrics and
	// health endpoints. Empty disables the HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// EngineConfig selects the transcription backend. Exactly one backend is
// chosen at startup: the native backend when ModelPath points at an existing
// whisper.cpp model file, otherwise the remote backend when ServerURL is set.
type EngineConfig struct {
	// ModelPath is a whisper.cpp GGML model file for the native backend.
	ModelPath string `yaml:"model_path"`

	// ServerURL is the base URL of a whisper-server instance.
	ServerURL string `yaml:"server_url"`

	// Model is the model identifier forwarded to the remote server
	// (e.g., "base.en", "small").
	Model string `yaml:"model"`
}

// LedgerConfig selects the transcription ledger backend: Postgres when
// PostgresDSN is set, otherwise the CSV file at CSVPath.
type LedgerConfig struct {
	CSVPath     string `yaml:"csv_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PushoverConfig configures the notification dispatcher.
type PushoverConfig struct {
	Enabled bool `yaml:"enabled"`

	// UserKey is the legacy single-recipient form; UserKeys supersedes it.
	UserKey  string      `yaml:"user_key"`
	UserKeys []Recipient `yaml:"user_keys"`

	APIToken string `yaml:"api_token"`
	Priority int    `yaml:"priority"`
}

// Recipients resolves the legacy single-key and list forms into one
// recipient list.
func (p PushoverConfig) Recipients() []Recipient {
	if len(p.UserKeys) > 0 {
		return p.UserKeys
	}
	if p.UserKey != "" {
		return []Recipient{{Key: p.UserKey}}
	}
	return nil
}

// Recipient is a single notification target. In YAML it may be a bare key
// string or a {key, name} mapping; Name is used for display and for the
// test-mode recipient filter.
type Recipient struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// UnmarshalYAML accepts both the scalar and mapping recipient forms.
func (r *Recipient) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Key = node.Value
		r.Name = ""
		return nil
	}
	type plain Recipient
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Recipient(p)
	return nil
}

// Active911Config configures alert enrichment.
type Active911Config struct {
	// ConfigPath is the credential store file (refresh token, access token,
	// expiration). Rewritten wholesale after every successful refresh.
	ConfigPath string `yaml:"config_path"`

	// AlertMinutes is the lookback window for the alert list call.
	AlertMinutes int `yaml:"alert_minutes"`

	// ReportHookURL, when set, receives a fire-and-forget POST after each
	// processed recording so an external report generator can refresh
	// itself. Failures are ignored.
	ReportHookURL string `yaml:"report_hook_url"`

	// StaticToken bypasses the credential lifecycle entirely. Only settable
	// via the ACTIVE911_TOKEN environment override.
	StaticToken string `yaml:"-"`
}

// CorrectionRule is a single exact phrase replacement.
type CorrectionRule struct {
	Wrong string
	Right string
}

// CorrectionRules preserves the document order of the exact_corrections
// mapping. Plain map decoding would lose the order the rules must be
// applied in.
type CorrectionRules []CorrectionRule

// UnmarshalYAML decodes a YAML mapping into ordered rules.
func (r *CorrectionRules) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("exact_corrections must be a mapping, got %s", node.Tag)
	}
	rules := make(CorrectionRules, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		rules = append(rules, CorrectionRule{
			Wrong: node.Content[i].Value,
			Right: node.Content[i+1].Value,
		})
	}
	*r = rules
	return nil
}
