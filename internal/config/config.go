// Package config loads service configuration from an optional YAML file and
// FOODLOG_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"mcp-food-log/internal/logging"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Media     MediaConfig     `koanf:"media"`
	Model     ModelConfig     `koanf:"model"`
	Retention RetentionConfig `koanf:"retention"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       logging.Config  `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
	AnalyzeRate     int           `koanf:"analyze_rate"`
	AnalyzeBurst    int           `koanf:"analyze_burst"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	Debug  bool   `koanf:"debug"`
}

// RedisConfig selects the status store. When disabled jobs live in memory.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type MediaConfig struct {
	Backend    string        `koanf:"backend"`
	Bucket     string        `koanf:"bucket"`
	Region     string        `koanf:"region"`
	Prefix     string        `koanf:"prefix"`
	Endpoint   string        `koanf:"endpoint"`
	PresignTTL time.Duration `koanf:"presign_ttl"`
}

type ModelConfig struct {
	APIKey             string        `koanf:"api_key"`
	BaseURL            string        `koanf:"base_url"`
	VisionModel        string        `koanf:"vision_model"`
	TextModel          string        `koanf:"text_model"`
	TranscriptionModel string        `koanf:"transcription_model"`
	MaxTokens          int           `koanf:"max_tokens"`
	Timeout            time.Duration `koanf:"timeout"`
}

type RetentionConfig struct {
	Window   time.Duration `koanf:"window"`
	Interval time.Duration `koanf:"interval"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

const (
	MediaMemory = "memory"
	MediaS3     = "s3"
)

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 90 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 5 << 20
	}
	if cfg.Server.AnalyzeRate == 0 {
		cfg.Server.AnalyzeRate = 30
	}
	if cfg.Server.AnalyzeBurst == 0 {
		cfg.Server.AnalyzeBurst = 5
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "food_log.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "analysis:"
	}
	if cfg.Media.Backend == "" {
		cfg.Media.Backend = MediaMemory
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = "us-east-1"
	}
	if cfg.Media.PresignTTL == 0 {
		cfg.Media.PresignTTL = 15 * time.Minute
	}
	if cfg.Model.VisionModel == "" {
		cfg.Model.VisionModel = "gpt-4o-mini"
	}
	if cfg.Model.TextModel == "" {
		cfg.Model.TextModel = cfg.Model.VisionModel
	}
	if cfg.Model.TranscriptionModel == "" {
		cfg.Model.TranscriptionModel = "whisper-1"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 2000
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = 2 * time.Minute
	}
	if cfg.Retention.Window == 0 {
		cfg.Retention.Window = 5 * time.Minute
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Minute
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks settings every command depends on. Secrets are checked by
// the commands that need them.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must not be negative"))
	}
	if c.Server.AnalyzeRate < 0 || c.Server.AnalyzeBurst < 0 {
		errs = append(errs, errors.New("server.analyze_rate and server.analyze_burst must not be negative"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: must be sqlite or postgres", c.Database.Driver))
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for postgres"))
	}
	switch c.Media.Backend {
	case MediaMemory:
	case MediaS3:
		if c.Media.Bucket == "" {
			errs = append(errs, errors.New("media.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.backend %q: must be memory or s3", c.Media.Backend))
	}
	if c.Retention.Window < 0 || c.Retention.Interval < 0 {
		errs = append(errs, errors.New("retention durations must not be negative"))
	}
	if c.Model.Timeout < 0 {
		errs = append(errs, errors.New("model.timeout must not be negative"))
	}
	if c.Retention.Window < c.Model.Timeout {
		errs = append(errs, fmt.Errorf("retention.window %s must not be shorter than model.timeout %s", c.Retention.Window, c.Model.Timeout))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireModel reports a missing model API key.
func (c *Config) RequireModel() error {
	if c.Model.APIKey == "" {
		return errors.New("model.api_key is required (set FOODLOG_MODEL_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

func (c *Config) RequireAuth() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}
