// Package config loads the runtime configuration described in spec.md
// §6.5: environment variables with sane defaults, optionally overridden
// by a YAML file. Grounded on the teacher's internal/config/loader.go
// (env-var expansion before parsing, yaml.v3 strict decoding of a single
// document) narrowed from the teacher's $include-resolving multi-file
// loader to SPEC_FULL.md's flat env-first surface, and on joho/godotenv
// for local .env loading (a dependency the teacher's own config package
// does not use but the rest of the example pack does for CLI bring-up).
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables the runtime reads at startup.
type Config struct {
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIAPIURL string `yaml:"openai_api_url"`
	OpenAIModel  string `yaml:"openai_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	ContextWindowTokens     int `yaml:"context_window_tokens"`
	CompactTriggerPct       int `yaml:"compact_trigger_pct"` // percent, e.g. 75 for 0.75
	CompactTargetPct        int `yaml:"compact_target_pct"`
	KeepLastTurns           int `yaml:"keep_last_turns"`
	CompactSummaryMaxTokens int `yaml:"compact_summary_max_tokens"`
	MaxCompactionAttempts   int `yaml:"max_compaction_attempts"`

	MaxErrorCount int `yaml:"max_error_count"`
	MaxSteps      int `yaml:"max_steps"`

	InternalAPISecret string `yaml:"internal_api_secret"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsAddr string `yaml:"metrics_addr"`
	SQLitePath  string `yaml:"sqlite_path"`

	SlackBotToken      string `yaml:"slack_bot_token"`
	SlackSigningSecret string `yaml:"slack_signing_secret"`
	DiscordToken       string `yaml:"discord_token"`
	TelegramToken      string `yaml:"telegram_token"`
	TelegramSecret     string `yaml:"telegram_secret"`
}

// defaults mirrors spec.md §4.2/§4.6's constants.
func defaults() Config {
	return Config{
		OpenAIAPIURL:            "https://api.openai.com/v1",
		OpenAIModel:             "gpt-4o-mini",
		AnthropicModel:          "claude-3-5-sonnet-latest",
		ContextWindowTokens:     128_000,
		CompactTriggerPct:       75,
		CompactTargetPct:        50,
		KeepLastTurns:           6,
		CompactSummaryMaxTokens: 1024,
		MaxCompactionAttempts:   2,
		MaxErrorCount:           3,
		MaxSteps:                50,
		LogLevel:                "info",
		LogFormat:               "json",
		MetricsAddr:             ":9090",
		SQLitePath:              "agentcore.db",
	}
}

// Load builds a Config from defaults, then environment variables, then
// (if path is non-empty) a YAML override file, in that order — each
// layer only overriding fields it actually sets. dotenvPath, if non-empty,
// is loaded into the process environment first via godotenv so a local
// .env file can seed the environment-variable layer.
func Load(dotenvPath, yamlPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", dotenvPath, err)
		}
	}

	cfg := defaults()
	applyEnv(&cfg)

	if yamlPath != "" {
		if err := applyYAMLFile(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	str(&cfg.OpenAIAPIURL, "OPENAI_API_URL")
	str(&cfg.OpenAIModel, "OPENAI_MODEL")
	str(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	str(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	intv(&cfg.ContextWindowTokens, "CONTEXT_WINDOW_TOKENS")
	intv(&cfg.CompactTriggerPct, "COMPACT_TRIGGER_PCT")
	intv(&cfg.CompactTargetPct, "COMPACT_TARGET_PCT")
	intv(&cfg.KeepLastTurns, "KEEP_LAST_TURNS")
	intv(&cfg.CompactSummaryMaxTokens, "COMPACT_SUMMARY_MAX_TOKENS")
	intv(&cfg.MaxCompactionAttempts, "MAX_COMPACTION_ATTEMPTS")
	intv(&cfg.MaxErrorCount, "MAX_ERROR_COUNT")
	intv(&cfg.MaxSteps, "MAX_STEPS")
	str(&cfg.InternalAPISecret, "INTERNAL_API_SECRET")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFormat, "LOG_FORMAT")
	str(&cfg.MetricsAddr, "METRICS_ADDR")
	str(&cfg.SQLitePath, "SQLITE_PATH")
	str(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	str(&cfg.SlackSigningSecret, "SLACK_SIGNING_SECRET")
	str(&cfg.DiscordToken, "DISCORD_TOKEN")
	str(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	str(&cfg.TelegramSecret, "TELEGRAM_SECRET")
}

func str(dst *string, envKey string) {
	if v, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func intv(dst *int, envKey string) {
	v, ok := os.LookupEnv(envKey)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return fmt.Errorf("config: %s: expected a single document", path)
	}
	return nil
}

// CompactTrigger returns the compaction trigger as a 0-1 fraction of the
// context window, per spec.md §4.2.
func (c Config) CompactTrigger() float64 { return float64(c.CompactTriggerPct) / 100 }

// CompactTarget returns the compaction target as a 0-1 fraction.
func (c Config) CompactTarget() float64 { return float64(c.CompactTargetPct) / 100 }
