package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Mail       MailConfig       `yaml:"mail"`
	LLM        LLMConfig        `yaml:"llm"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with environment override
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis connection used for the scan lock.
// An empty Addr disables Redis and the lock falls back to Postgres or memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// MailConfig holds mail-server admin API configuration
type MailConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	MaxConnections     int    `yaml:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections"`
}

// Timeout returns the configured timeout as a duration
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the read-cache TTL as a duration
func (c MailConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LLMConfig holds the OpenAI-compatible classification endpoint configuration
type LLMConfig struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// Timeout returns the configured timeout as a duration
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Enabled reports whether an API key is configured. Without a key the
// classifier runs rules-only and routes misses to manual review.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// ScannerConfig holds fleet scan and account sync configuration
type ScannerConfig struct {
	BatchSize           int `yaml:"batch_size"`
	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`
	ClassifyRecent      int `yaml:"classify_recent"`
	LockTTLMinutes      int `yaml:"lock_ttl_minutes"`
}

// SyncInterval returns the auto-sync interval as a duration
func (c ScannerConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// LockTTL returns the scan lock TTL as a duration
func (c ScannerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// ClassifierConfig holds classification pipeline configuration
type ClassifierConfig struct {
	RulesVersion        string  `yaml:"rules_version"`
	MaxConcurrent       int     `yaml:"max_concurrent"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// AlertsConfig holds alert text template overrides keyed by template name
// (stage_title, stage_message, critical_title, critical_message). Missing
// keys use the built-in templates.
type AlertsConfig struct {
	Templates map[string]string `yaml:"templates"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Mail.TimeoutSeconds == 0 {
		cfg.Mail.TimeoutSeconds = 30
	}
	if cfg.Mail.CacheTTLSeconds == 0 {
		cfg.Mail.CacheTTLSeconds = 60
	}
	if cfg.Mail.MaxConnections == 0 {
		cfg.Mail.MaxConnections = 20
	}
	if cfg.Mail.MaxIdleConnections == 0 {
		cfg.Mail.MaxIdleConnections = 10
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 30
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 500
	}
	if cfg.Scanner.BatchSize == 0 {
		cfg.Scanner.BatchSize = 10
	}
	if cfg.Scanner.SyncIntervalSeconds == 0 {
		cfg.Scanner.SyncIntervalSeconds = 300
	}
	if cfg.Scanner.ClassifyRecent == 0 {
		cfg.Scanner.ClassifyRecent = 20
	}
	if cfg.Scanner.LockTTLMinutes == 0 {
		cfg.Scanner.LockTTLMinutes = 30
	}
	if cfg.Classifier.RulesVersion == "" {
		cfg.Classifier.RulesVersion = "2026-02-13T00:00:00Z"
	}
	if cfg.Classifier.MaxConcurrent == 0 {
		cfg.Classifier.MaxConcurrent = 5
	}
	if cfg.Classifier.ConfidenceThreshold == 0 {
		cfg.Classifier.ConfidenceThreshold = 0.7
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if apiKey := os.Getenv("MAIL_API_KEY"); apiKey != "" {
		cfg.Mail.APIKey = apiKey
	}
	if baseURL := os.Getenv("MAIL_API_BASE"); baseURL != "" {
		cfg.Mail.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("LLM_API_BASE"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if v := envInt("REDIS_DB"); v > 0 {
		cfg.Redis.DB = v
	}
	if v := envInt("SYNC_INTERVAL_SECONDS"); v > 0 {
		cfg.Scanner.SyncIntervalSeconds = v
	}
	if v := envInt("SCANNER_BATCH_SIZE"); v > 0 {
		cfg.Scanner.BatchSize = v
	}
	if v := envInt("PIPELINE_MAX_CONCURRENT"); v > 0 {
		cfg.Classifier.MaxConcurrent = v
	}
	if version := os.Getenv("CLASSIFIER_RULES_VERSION"); version != "" {
		cfg.Classifier.RulesVersion = version
	}

	return cfg, nil
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
