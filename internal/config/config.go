package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all popquiz environment variables.
const EnvPrefix = "POPQUIZ_"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration. Secrets (API keys, DSNs) are
// loaded exclusively from environment variables and never appear in the
// config file.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	DBDriver      string `yaml:"db_driver"`
	DBPath        string `yaml:"db_path"`
	ArchiveDir    string `yaml:"archive_dir"`
	DeadLetterDir string `yaml:"dead_letter_dir"`

	SampleRate      int    `yaml:"sample_rate"`
	FlushWindow     string `yaml:"flush_window"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`

	TranscriptionModel string `yaml:"transcription_model"`
	SummarizationModel string `yaml:"summarization_model"`
	QuizModel          string `yaml:"quiz_model"`

	SummaryWindow    string `yaml:"summary_window"`
	SummaryMinChunks int    `yaml:"summary_min_chunks"`
	RecentMinutes    int    `yaml:"recent_minutes"`
	SessionIdleTTL   string `yaml:"session_idle_ttl"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	ExportInterval        string `yaml:"export_interval"`

	// Secrets, env vars only.
	GeminiAPIKey    string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	PostgresDSN     string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		LogLevel:              "info",
		DBDriver:              DriverSQLite,
		DBPath:                "data/popquiz.db",
		ArchiveDir:            "data/transcripts",
		SampleRate:            16000,
		FlushWindow:           "60s",
		MaxPayloadBytes:       20 * 1024 * 1024,
		TranscriptionModel:    "gemini/gemini-1.5-flash",
		SummarizationModel:    "gemini/gemini-1.5-flash",
		QuizModel:             "gemini/gemini-1.5-pro",
		SummaryWindow:         "5m",
		SummaryMinChunks:      5,
		RecentMinutes:         10,
		GoogleCredentialsFile: "./service-account.json",
		ExportInterval:        "5m",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedFlushWindow returns FlushWindow as a time.Duration, falling back to
// 60s if the value is invalid or not positive.
func (c *Config) ParsedFlushWindow() time.Duration {
	return parsePositive(c.FlushWindow, 60*time.Second)
}

// ParsedSummaryWindow returns SummaryWindow, falling back to 5m.
func (c *Config) ParsedSummaryWindow() time.Duration {
	return parsePositive(c.SummaryWindow, 5*time.Minute)
}

// ParsedExportInterval returns ExportInterval, falling back to 5m.
func (c *Config) ParsedExportInterval() time.Duration {
	return parsePositive(c.ExportInterval, 5*time.Minute)
}

// ParsedSessionIdleTTL returns SessionIdleTTL. Zero means idle sessions are
// never evicted.
func (c *Config) ParsedSessionIdleTTL() time.Duration {
	if strings.TrimSpace(c.SessionIdleTTL) == "" {
		return 0
	}
	return parsePositive(c.SessionIdleTTL, 0)
}

// APIKey returns the secret for a "provider/model" provider name.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "gemini":
		return c.GeminiAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "deepgram":
		return c.DeepgramAPIKey
	default:
		return ""
	}
}

func parsePositive(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"LOG_LEVEL":               &cfg.LogLevel,
		"DB_DRIVER":               &cfg.DBDriver,
		"DB_PATH":                 &cfg.DBPath,
		"ARCHIVE_DIR":             &cfg.ArchiveDir,
		"DEAD_LETTER_DIR":         &cfg.DeadLetterDir,
		"FLUSH_WINDOW":            &cfg.FlushWindow,
		"TRANSCRIPTION_MODEL":     &cfg.TranscriptionModel,
		"SUMMARIZATION_MODEL":     &cfg.SummarizationModel,
		"QUIZ_MODEL":              &cfg.QuizModel,
		"SUMMARY_WINDOW":          &cfg.SummaryWindow,
		"SESSION_IDLE_TTL":        &cfg.SessionIdleTTL,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"EXPORT_INTERVAL":         &cfg.ExportInterval,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SAMPLE_RATE":        &cfg.SampleRate,
		"MAX_PAYLOAD_BYTES":  &cfg.MaxPayloadBytes,
		"SUMMARY_MIN_CHUNKS": &cfg.SummaryMinChunks,
		"RECENT_MINUTES":     &cfg.RecentMinutes,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.PostgresDSN = os.Getenv(EnvPrefix + "POSTGRES_DSN")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.SampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid sample_rate %d, using 16000.", cfg.SampleRate))
		cfg.SampleRate = 16000
	}
	if cfg.SummaryMinChunks <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid summary_min_chunks %d, using 5.", cfg.SummaryMinChunks))
		cfg.SummaryMinChunks = 5
	}
	if cfg.RecentMinutes <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid recent_minutes %d, using 10.", cfg.RecentMinutes))
		cfg.RecentMinutes = 10
	}
	if cfg.MaxPayloadBytes <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid max_payload_bytes %d, using 20 MiB.", cfg.MaxPayloadBytes))
		cfg.MaxPayloadBytes = 20 * 1024 * 1024
	}

	durations := []struct{ name, value, fallback string }{
		{"flush_window", cfg.FlushWindow, "60s"},
		{"summary_window", cfg.SummaryWindow, "5m"},
		{"export_interval", cfg.ExportInterval, "5m"},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using default %s.", d.name, d.value, d.fallback))
		}
	}
	if ttl := strings.TrimSpace(cfg.SessionIdleTTL); ttl != "" {
		if v, err := time.ParseDuration(ttl); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid session_idle_ttl %q, idle sessions will not be evicted.", ttl))
		}
	}

	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			warnings = append(warnings, "db_driver is postgres but no DSN is configured, falling back to sqlite. Set "+EnvPrefix+"POSTGRES_DSN.")
			cfg.DBDriver = DriverSQLite
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown db_driver %q, using sqlite.", cfg.DBDriver))
		cfg.DBDriver = DriverSQLite
	}

	models := []struct{ name, value string }{
		{"transcription_model", cfg.TranscriptionModel},
		{"summarization_model", cfg.SummarizationModel},
		{"quiz_model", cfg.QuizModel},
	}
	for _, m := range models {
		provider, _, ok := strings.Cut(m.value, "/")
		if !ok || provider == "" {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, expected provider/model.", m.name, m.value))
			continue
		}
		if cfg.APIKey(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for %s provider %q. Set %s%s_API_KEY.", m.name, provider, EnvPrefix, strings.ToUpper(provider)))
		}
	}

	return warnings
}
