// Package config loads the flat, section-based configuration record
// described in the system's external interfaces: a YAML file with
// ${NAME} / ${NAME:default} environment substitution, mirroring the
// section layout of the original Python configuration loader.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CarrierConfig holds telephony-carrier REST credentials.
type CarrierConfig struct {
	SID        string `yaml:"sid"`
	Token      string `yaml:"token"`
	FromNumber string `yaml:"from_number"`
	Space      string `yaml:"space"`
}

// ModelAConfig configures the server-VAD ("variant A") real-time model.
type ModelAConfig struct {
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Voice       string `yaml:"voice"`
	Instruction string `yaml:"instruction"`
}

// ModelBConfig configures the inferred-turn ("variant B") real-time model.
type ModelBConfig struct {
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Voice       string `yaml:"voice"`
	Instruction string `yaml:"instruction"`
	Enabled     bool   `yaml:"enabled"`
}

// ExternalSTTConfig configures the optional external speech-to-text path.
// Thresholds are deliberately configuration (see DESIGN.md Open Question 3).
type ExternalSTTConfig struct {
	APIKey             string `yaml:"api_key"`
	Enabled            bool   `yaml:"enabled"`
	SilenceThresholdRMS int   `yaml:"silence_threshold_rms"`
	SilenceDurationMS   int   `yaml:"silence_duration_ms"`
}

// ExecutorConfig configures the external command executor collaborator.
type ExecutorConfig struct {
	ChatID  string `yaml:"chat_id"`
	Mode    string `yaml:"mode"` // "subprocess" or "http"
	Command string `yaml:"command"`
	URL     string `yaml:"url"`
}

// BrainConfig carries the configuration surfaced by Open Question 1: the
// quick-skip phrase list and imperative-verb keyword list must not be
// hardcoded constants.
type BrainConfig struct {
	QuickSkipPhrases []string `yaml:"quick_skip_phrases"`
	ActionKeywords   []string `yaml:"action_keywords"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	WebhookPath  string `yaml:"webhook_path"`
	WSPath       string `yaml:"ws_path"`
}

// LoggingConfig configures the leveled logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig configures the call-session store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the top-level, flat section record.
type Config struct {
	Carrier      CarrierConfig     `yaml:"carrier"`
	ModelA       ModelAConfig      `yaml:"model_a"`
	ModelB       ModelBConfig      `yaml:"model_b"`
	ExternalSTT  ExternalSTTConfig `yaml:"external_stt"`
	Executor     ExecutorConfig    `yaml:"executor"`
	Brain        BrainConfig       `yaml:"brain"`
	Server       ServerConfig      `yaml:"server"`
	Logging      LoggingConfig     `yaml:"logging"`
	Database     DatabaseConfig    `yaml:"database"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)(?::([^}]*))?\}`)

// expandEnv expands ${NAME} and ${NAME:default} references against the
// process environment.
func expandEnv(raw string) string {
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
}

// Load reads a YAML configuration file, expanding ${NAME}/${NAME:default}
// references against the process environment (a .env file alongside it,
// if present, is loaded first so it can supply those references).
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := expandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/carrier/voice"
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = "/carrier/media-stream"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.ExternalSTT.SilenceThresholdRMS == 0 {
		cfg.ExternalSTT.SilenceThresholdRMS = 500
	}
	if cfg.ExternalSTT.SilenceDurationMS == 0 {
		cfg.ExternalSTT.SilenceDurationMS = 500
	}
	if cfg.Executor.Mode == "" {
		cfg.Executor.Mode = "subprocess"
	}
	if len(cfg.Brain.QuickSkipPhrases) == 0 {
		cfg.Brain.QuickSkipPhrases = defaultQuickSkipPhrases
	}
	if len(cfg.Brain.ActionKeywords) == 0 {
		cfg.Brain.ActionKeywords = defaultActionKeywords
	}
}

// Defaults for Brain's fast-path lists, used only when the deployment's
// configuration file omits them. Tunable; see DESIGN.md Open Question 1.
var defaultQuickSkipPhrases = []string{
	"hi", "hello", "hey", "ok", "okay", "yes", "no", "yeah", "yep", "nope",
	"bye", "goodbye", "thanks", "thank you", "cool", "great", "sure",
	"got it", "sounds good", "alright", "uh huh", "mhm",
}

var defaultActionKeywords = []string{
	"open", "play", "search", "send", "call", "text", "check", "show",
	"find", "start", "stop", "email", "message", "set", "remind", "turn on",
	"turn off", "pause", "resume", "skip", "next", "youtube", "spotify",
	"weather", "navigate", "directions", "order", "book", "schedule",
}
