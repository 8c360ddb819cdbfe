package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the assistant.
// Values come from an optional YAML file; environment variables override them.
// Secrets (API keys, passwords) are only read from the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Redis      RedisConfig      `yaml:"redis"`
	LLM        LLMConfig        `yaml:"llm"`
	Weather    WeatherConfig    `yaml:"weather"`
	Music      MusicConfig      `yaml:"music"`
	Search     SearchConfig     `yaml:"search"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port    string `yaml:"port" env:"PORT" env-default:"8000"`
	GinMode string `yaml:"gin_mode" env:"GIN_MODE" env-default:"release"`
	// CORSOrigins is a comma-separated list of allowed origins.
	CORSOrigins     string        `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"http://localhost:3000,http://localhost:4321,http://localhost:5173"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// AllowedOrigins splits CORSOrigins.
func (s ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type ClassifierConfig struct {
	URL                 string        `yaml:"url" env:"CLASSIFIER_URL" env-default:""`
	Timeout             time.Duration `yaml:"timeout" env:"CLASSIFIER_TIMEOUT" env-default:"10s"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD" env-default:"0.5"`
}

type DialogueConfig struct {
	// IntentsFile overlays the built-in slot schema. Empty uses the built-in one.
	IntentsFile          string        `yaml:"intents_file" env:"INTENTS_FILE" env-default:""`
	ContextExpiry        time.Duration `yaml:"context_expiry" env:"CONTEXT_EXPIRY" env-default:"1800s"`
	SweepInterval        time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m"`
	ShortAnswerMaxTokens int           `yaml:"short_answer_max_tokens" env:"SHORT_ANSWER_MAX_TOKENS" env-default:"5"`
	MaxHandlerFailures   int           `yaml:"max_handler_failures" env:"MAX_HANDLER_FAILURES" env-default:"3"`
}

// RedisConfig enables snapshot persistence. Sessions are memory-only when disabled.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL       time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h"`
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"nlu-agent:session:"`
}

type LLMConfig struct {
	BaseURL           string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.groq.com/openai/v1"`
	Model             string        `yaml:"model" env:"LLM_MODEL" env-default:"qwen/qwen3-32b"`
	APIKey            string        `yaml:"-" env:"GROQ_API_KEY"`
	Temperature       float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.5"`
	Timeout           time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"30s"`
	MaxToolIterations int           `yaml:"max_tool_iterations" env:"LLM_MAX_TOOL_ITERATIONS" env-default:"5"`
	HistoryWindow     int           `yaml:"history_window" env:"LLM_HISTORY_WINDOW" env-default:"5"`
}

type WeatherConfig struct {
	BaseURL string        `yaml:"base_url" env:"WEATHER_BASE_URL" env-default:"http://api.weatherapi.com/v1"`
	APIKey  string        `yaml:"-" env:"WEATHERAPI_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"WEATHER_TIMEOUT" env-default:"10s"`
}

type MusicConfig struct {
	BaseURL string        `yaml:"base_url" env:"MUSIC_BASE_URL" env-default:"https://itunes.apple.com"`
	Limit   int           `yaml:"limit" env:"MUSIC_LIMIT" env-default:"5"`
	Timeout time.Duration `yaml:"timeout" env:"MUSIC_TIMEOUT" env-default:"10s"`
}

type SearchConfig struct {
	BaseURL string        `yaml:"base_url" env:"SEARCH_BASE_URL" env-default:"https://api.tavily.com"`
	APIKey  string        `yaml:"-" env:"TAVILY_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"SEARCH_TIMEOUT" env-default:"15s"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads .env (if present) into the environment, then path (if it exists)
// with environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" && fileExists(path) {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Classifier.ConfidenceThreshold <= 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within (0,1], got %v", c.Classifier.ConfidenceThreshold)
	}
	if c.Dialogue.ContextExpiry <= 0 {
		return errors.New("context_expiry must be positive")
	}
	if c.Dialogue.ShortAnswerMaxTokens < 1 {
		return errors.New("short_answer_max_tokens must be at least 1")
	}
	if c.Dialogue.MaxHandlerFailures < 1 {
		return errors.New("max_handler_failures must be at least 1")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
