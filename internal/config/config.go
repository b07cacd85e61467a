package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Database   Database   `mapstructure:"database"`
	AI         AI         `mapstructure:"ai"`
	Sources    Sources    `mapstructure:"sources"`
	Annotation Annotation `mapstructure:"annotation"`
	Digest     Digest     `mapstructure:"digest"`
	Server     Server     `mapstructure:"server"`
	Schedule   Schedule   `mapstructure:"schedule"`
	Logging    Logging    `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	ConfigFile string `mapstructure:"config_file"`
}

// Database selects the store implementation.
type Database struct {
	Driver           string `mapstructure:"driver"` // postgres | sqlite3 | memory
	ConnectionString string `mapstructure:"connection_string"`
	MaxOpenConns     int    `mapstructure:"max_open_conns"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

// Sources configures the built-in source adapters.
type Sources struct {
	UserAgent                string         `mapstructure:"user_agent"`
	Timeout                  string         `mapstructure:"timeout"`
	SupplementaryConcurrency int            `mapstructure:"supplementary_concurrency"`
	LessWrong                FeedSource     `mapstructure:"lesswrong"`
	HFPapers                 EndpointSource `mapstructure:"hf_papers"`
	HuggingFace              EndpointSource `mapstructure:"huggingface"`
	Civitai                  CivitaiSource  `mapstructure:"civitai"`
}

// FeedSource configures an RSS/Atom source.
type FeedSource struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Limit   int    `mapstructure:"limit"`
}

// EndpointSource configures a JSON API source.
type EndpointSource struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	Limit   int    `mapstructure:"limit"`
}

// CivitaiSource configures the Civitai models API.
type CivitaiSource struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Limit   int    `mapstructure:"limit"`
	Period  string `mapstructure:"period"`
	Types   string `mapstructure:"types"`
}

// Annotation configures the annotator throttles.
type Annotation struct {
	BatchSize         int `mapstructure:"batch_size"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Digest configures daily digest generation.
type Digest struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	Window   string `mapstructure:"window"` // "0" for every stored record
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CronSecret      string        `mapstructure:"cron_secret"`
	CORS            CORS          `mapstructure:"cors"`
}

// CORS holds CORS configuration
type CORS struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Schedule configures the built-in ticker used by `bulletin schedule`.
type Schedule struct {
	Interval string `mapstructure:"interval"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	globalConfig *Config
	loadMu       sync.Mutex
)

// Load loads the configuration from .env, the config file and the environment.
func Load(configFile string) (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".bulletin")
		v.SetConfigType("yaml")
	}

	config, err := load(v)
	if err != nil {
		return nil, err
	}
	globalConfig = config
	return config, nil
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnvironmentVariables(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = v.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset drops the cached configuration so the next Load re-reads it.
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	v.SetDefault("ai.gemini.timeout", "60s")
	v.SetDefault("ai.gemini.max_tokens", 2048)
	v.SetDefault("ai.gemini.temperature", 0.3)

	v.SetDefault("sources.user_agent", "bulletin/1.0 (+https://github.com)")
	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.supplementary_concurrency", 4)
	v.SetDefault("sources.lesswrong.enabled", true)
	v.SetDefault("sources.lesswrong.url", "https://www.lesswrong.com/feed.xml?view=frontpage-rss&karmaThreshold=30")
	v.SetDefault("sources.lesswrong.limit", 20)
	v.SetDefault("sources.hf_papers.enabled", true)
	v.SetDefault("sources.hf_papers.base_url", "https://huggingface.co")
	v.SetDefault("sources.hf_papers.limit", 20)
	v.SetDefault("sources.huggingface.enabled", true)
	v.SetDefault("sources.huggingface.base_url", "https://huggingface.co")
	v.SetDefault("sources.huggingface.limit", 10)
	v.SetDefault("sources.civitai.enabled", true)
	v.SetDefault("sources.civitai.base_url", "https://civitai.com")
	v.SetDefault("sources.civitai.limit", 10)
	v.SetDefault("sources.civitai.period", "Week")
	v.SetDefault("sources.civitai.types", "Checkpoint")

	v.SetDefault("annotation.batch_size", 0)
	v.SetDefault("annotation.requests_per_minute", 30)

	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.timezone", "UTC")
	v.SetDefault("digest.window", "48h")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.enabled", false)

	v.SetDefault("schedule.interval", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables(v *viper.Viper) {
	bindEnvKeys(v, "database.connection_string", []string{
		"DATABASE_URL",
		"BULLETIN_DATABASE_URL",
	})

	bindEnvKeys(v, "database.driver", []string{
		"DATABASE_DRIVER",
	})

	bindEnvKeys(v, "ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys(v, "sources.civitai.api_key", []string{
		"CIVITAI_API_KEY",
	})

	bindEnvKeys(v, "server.cron_secret", []string{
		"CRON_SECRET",
	})

	bindEnvKeys(v, "logging.level", []string{
		"LOG_LEVEL",
	})

	bindEnvKeys(v, "app.debug", []string{
		"DEBUG",
		"BULLETIN_DEBUG",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(v *viper.Viper, viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			v.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.Database.Driver == "sqlite3" && config.Database.ConnectionString != "" {
		config.Database.ConnectionString = expandPath(config.Database.ConnectionString)
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	durations := map[string]string{
		"ai.gemini.timeout": config.AI.Gemini.Timeout,
		"sources.timeout":   config.Sources.Timeout,
		"schedule.interval": config.Schedule.Interval,
		"digest.window":     config.Digest.Window,
	}
	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	if _, err := time.LoadLocation(config.Digest.Timezone); err != nil {
		return fmt.Errorf("invalid digest.timezone %q: %w", config.Digest.Timezone, err)
	}
	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configuration is internally consistent.
// Missing credentials are reported by the commands that need them.
func validateConfig(config *Config) error {
	var errors []string

	switch config.Database.Driver {
	case "postgres", "sqlite3", "memory":
	default:
		errors = append(errors, fmt.Sprintf("Unknown database driver: %s. Supported: postgres, sqlite3, memory", config.Database.Driver))
	}

	if config.Annotation.BatchSize < 0 {
		errors = append(errors, "annotation.batch_size must be >= 0")
	}
	if config.Annotation.RequestsPerMinute < 0 {
		errors = append(errors, "annotation.requests_per_minute must be >= 0")
	}
	if config.Sources.SupplementaryConcurrency < 1 {
		errors = append(errors, "sources.supplementary_concurrency must be >= 1")
	}
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port out of range: %d", config.Server.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Location returns the digest time zone; UTC if unset.
func (d Digest) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration parses a validated duration string, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// HasValidAPIKey reports whether key is set and not a placeholder.
func HasValidAPIKey(key string) bool {
	return isValidAPIKey(key)
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-gemini-key", "your-civitai-key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}
	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}
	return true
}
