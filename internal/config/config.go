package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Couple     CoupleConfig     `yaml:"couple"`
	Wizard     WizardConfig     `yaml:"wizard"`
	Auth       AuthConfig       `yaml:"auth"`
	Worker     WorkerConfig     `yaml:"worker"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GenerationConfig contains text-generation collaborator settings.
// Exactly one provider is active; the API key is env-only, never in YAML.
type GenerationConfig struct {
	Provider  string `yaml:"provider"` // "gemini" or "openai"
	APIKey    string `yaml:"-"`        // env-only: GEMINI_API_KEY / OPENAI_API_KEY
	FastModel string `yaml:"fast_model"`
	DeepModel string `yaml:"deep_model"`
}

// CoupleConfig names the two fixed member identities.
type CoupleConfig struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
}

// WizardConfig contains the share-a-need wizard settings.
type WizardConfig struct {
	DepthThreshold   int      `yaml:"depth_threshold"`
	AnalysisDebounce Duration `yaml:"analysis_debounce"`
	CompleteDelay    Duration `yaml:"complete_delay"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ReminderInterval Duration `yaml:"reminder_interval"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

// SnapshotConfig contains S3-compatible snapshot storage settings.
// An empty bucket disables snapshot uploads entirely.
type SnapshotConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TANDEM_CONFIG_PATH", "config/tandem.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/tandem.db",
		},
		Generation: GenerationConfig{
			Provider:  "gemini",
			FastModel: "gemini-2.5-flash",
			DeepModel: "gemini-2.5-pro",
		},
		Couple: CoupleConfig{
			First:  "Wissam",
			Second: "Sylvie",
		},
		Wizard: WizardConfig{
			DepthThreshold:   100,
			AnalysisDebounce: Duration(1 * time.Second),
			CompleteDelay:    Duration(4 * time.Second),
		},
		Worker: WorkerConfig{
			ReminderInterval: Duration(15 * time.Minute),
			SnapshotInterval: Duration(1 * time.Hour),
		},
		Snapshot: SnapshotConfig{
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TANDEM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TANDEM_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TANDEM_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TANDEM_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TANDEM_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Generation: provider selects which key env var applies
	if v := os.Getenv("TANDEM_GENERATION_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}
	switch cfg.Generation.Provider {
	case "openai":
		cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	default:
		cfg.Generation.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("TANDEM_FAST_MODEL"); v != "" {
		cfg.Generation.FastModel = v
	}
	if v := os.Getenv("TANDEM_DEEP_MODEL"); v != "" {
		cfg.Generation.DeepModel = v
	}

	// Couple
	if v := os.Getenv("TANDEM_COUPLE_FIRST"); v != "" {
		cfg.Couple.First = v
	}
	if v := os.Getenv("TANDEM_COUPLE_SECOND"); v != "" {
		cfg.Couple.Second = v
	}

	// Auth
	if v := os.Getenv("TANDEM_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	if v := os.Getenv("TANDEM_REMINDER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReminderInterval = Duration(d)
		}
	}
	if v := os.Getenv("TANDEM_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SnapshotInterval = Duration(d)
		}
	}

	// Snapshot storage credentials
	if v := os.Getenv("TANDEM_SNAPSHOT_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("TANDEM_SNAPSHOT_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}

	// Log
	if v := os.Getenv("TANDEM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TANDEM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	switch c.Generation.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	if c.Couple.First == "" || c.Couple.Second == "" {
		return errors.New("both couple members must be named")
	}
	if c.Couple.First == c.Couple.Second {
		return errors.New("couple members must be distinct")
	}
	if c.Wizard.DepthThreshold < 0 || c.Wizard.DepthThreshold > 100 {
		return fmt.Errorf("depth threshold must be 0-100, got %d", c.Wizard.DepthThreshold)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// getEnv returns the env var value or a default.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
