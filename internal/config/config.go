package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Metadata backend
	KVBackend     string `mapstructure:"kv-backend"`
	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`

	// Listeners
	WSAddr   string `mapstructure:"ws-addr"`
	HTTPAddr string `mapstructure:"http-addr"`

	// S3 configuration
	S3Bucket            string `mapstructure:"s3-bucket"`
	S3Region            string `mapstructure:"s3-region"`
	MaxUploadsPerSecond int    `mapstructure:"max-uploads-per-second"`

	// Public URLs
	ImageURL  string `mapstructure:"image-url"`
	UploadURL string `mapstructure:"upload-url"`

	// Rate limiting
	RateLimitInterval time.Duration `mapstructure:"rate-limit-interval"`
	RateLimitMax      int64         `mapstructure:"rate-limit-max"`

	// Session
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`

	// Search engine
	MaxIntersections        int           `mapstructure:"max-intersections"`
	MaxConcurrentSearches   int           `mapstructure:"max-concurrent-searches"`
	MaxIntersectionLifespan time.Duration `mapstructure:"max-intersection-lifespan"`
	MaxTagSearch            int           `mapstructure:"max-tag-search"`
	MaxSearchCount          int64         `mapstructure:"max-search-count"`

	// Authentication challenges
	AuthTokenLength int           `mapstructure:"auth-token-length"`
	AuthTokenExpiry time.Duration `mapstructure:"auth-token-expiry"`
	AuthMaxTries    int           `mapstructure:"auth-max-tries"`

	// Upload limits
	MaxImageSize int64 `mapstructure:"max-image-size"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("kv-backend", "redis")
	viper.SetDefault("redis-addr", "localhost:6379")
	viper.SetDefault("redis-db", 0)
	viper.SetDefault("ws-addr", ":8440")
	viper.SetDefault("http-addr", ":8441")
	viper.SetDefault("s3-bucket", "gazou-images")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("max-uploads-per-second", 10)
	viper.SetDefault("image-url", "http://localhost:8441/images")
	viper.SetDefault("upload-url", "http://localhost:8441/upload")
	viper.SetDefault("rate-limit-interval", 10*time.Second)
	viper.SetDefault("rate-limit-max", 50)
	viper.SetDefault("heartbeat-interval", 30*time.Second)
	viper.SetDefault("max-intersections", 10)
	viper.SetDefault("max-concurrent-searches", 1)
	viper.SetDefault("max-intersection-lifespan", 30*time.Second)
	viper.SetDefault("max-tag-search", 10)
	viper.SetDefault("max-search-count", 100)
	viper.SetDefault("auth-token-length", 6)
	viper.SetDefault("auth-token-expiry", 30*time.Second)
	viper.SetDefault("auth-max-tries", 2)
	viper.SetDefault("max-image-size", 20*1024*1024)

	// Environment variables (will be GAZOU_REDIS_ADDR, etc.)
	viper.SetEnvPrefix("GAZOU")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.gazou")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.KVBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("kv-backend must be redis or memory, got %q", c.KVBackend)
	}
	if c.KVBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.WSAddr == "" {
		return fmt.Errorf("ws-addr cannot be empty")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr cannot be empty")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3-bucket cannot be empty")
	}
	if c.ImageURL == "" || c.UploadURL == "" {
		return fmt.Errorf("image-url and upload-url cannot be empty")
	}
	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("rate-limit-interval must be positive")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("rate-limit-max must be positive")
	}
	if c.MaxIntersections <= 0 {
		return fmt.Errorf("max-intersections must be positive")
	}
	if c.MaxConcurrentSearches <= 0 {
		return fmt.Errorf("max-concurrent-searches must be positive")
	}
	if c.MaxIntersectionLifespan <= 0 {
		return fmt.Errorf("max-intersection-lifespan must be positive")
	}
	if c.MaxTagSearch <= 0 {
		return fmt.Errorf("max-tag-search must be positive")
	}
	if c.MaxSearchCount <= 0 {
		return fmt.Errorf("max-search-count must be positive")
	}
	if c.AuthMaxTries <= 0 {
		return fmt.Errorf("auth-max-tries must be positive")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	return nil
}
