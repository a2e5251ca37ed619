package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flashdoc/internal/completion"
	"flashdoc/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	Chunk      ChunkConfig      `yaml:"chunk" mapstructure:"chunk"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Deck       DeckConfig       `yaml:"deck" mapstructure:"deck"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CompletionConfig configures the chat completion backend. APIKey is checked
// by completion.New, not here.
type CompletionConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Model     string `yaml:"model" mapstructure:"model" validate:"required"`
	TimeoutMS int    `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"gt=0"`
}

// Timeout returns the per-request completion timeout.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Client builds the completion client. A missing key fails here with
// completion.ErrMissingAPIKey.
func (c CompletionConfig) Client() (*completion.Client, error) {
	return completion.New(completion.Config{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Timeout: c.Timeout(),
	})
}

// UploadConfig bounds uploads and names the staging directory.
type UploadConfig struct {
	MaxBytes int64  `yaml:"max_bytes" mapstructure:"max_bytes" validate:"gt=0"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
}

// ChunkConfig configures chunked generation.
type ChunkConfig struct {
	Budget        int `yaml:"budget" mapstructure:"budget" validate:"gt=0"`
	CardsPerChunk int `yaml:"cards_per_chunk" mapstructure:"cards_per_chunk" validate:"gte=0"`
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=16"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"min=1"`
	JobRetentionMinutes int      `yaml:"job_retention_minutes" mapstructure:"job_retention_minutes" validate:"gte=1"`
}

// JobRetention returns how long completed background jobs stay queryable.
func (c ServerConfig) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// DeckConfig configures the deck store.
type DeckConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// LogConfig configures logging. Verbose adds raw completion replies to debug
// logs when a reply is rejected.
type LogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLASHDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("completion.api_key", "FLASHDOC_COMPLETION_API_KEY", "PERPLEXITY_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind api key")
	}

	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.base_url", completion.DefaultBaseURL)
	v.SetDefault("completion.model", completion.DefaultModel)
	v.SetDefault("completion.timeout_ms", int(completion.DefaultTimeout/time.Millisecond))
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.dir", os.TempDir())
	v.SetDefault("chunk.budget", 2000)
	v.SetDefault("chunk.cards_per_chunk", 5)
	v.SetDefault("chunk.concurrency", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.job_retention_minutes", 30)
	v.SetDefault("deck.dsn", db.DefaultDSN)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.verbose", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
