// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	BackendURL     string `mapstructure:"BACKEND_URL"`
	BackendAnonKey string `mapstructure:"BACKEND_ANON_KEY"`
	StorageBucket  string `mapstructure:"STORAGE_BUCKET"`
	Env            string `mapstructure:"APP_ENV"`

	// Business rules the presentation layer enforces before submission.
	// The backend remains the final authority on all of them.
	FeedbackMinLength  int    `mapstructure:"FEEDBACK_MIN_LENGTH"`
	HelpfulRatingActor string `mapstructure:"HELPFUL_RATING_ACTOR"`
	MaxImageBytes      int64  `mapstructure:"MAX_IMAGE_BYTES"`
	MaxAudioBytes      int64  `mapstructure:"MAX_AUDIO_BYTES"`

	// Transport knobs.
	RequestTimeoutSeconds int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	RetryMaxAttempts      int     `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialBackoffMS int     `mapstructure:"RETRY_INITIAL_BACKOFF_MS"`
	RetryMaxBackoffMS     int     `mapstructure:"RETRY_MAX_BACKOFF_MS"`
	RetryJitter           float64 `mapstructure:"RETRY_JITTER"`

	// Tracing.
	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	SamplerRatio    float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// Helpful-rating actor policies. See FeedbackService.SetHelpfulRating.
const (
	HelpfulRatingActorAuthor = "author"
	HelpfulRatingActorOwner  = "owner"
)

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The config file is optional; environment variables alone are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("STORAGE_BUCKET", "projects")
	viper.SetDefault("FEEDBACK_MIN_LENGTH", 100)
	viper.SetDefault("HELPFUL_RATING_ACTOR", HelpfulRatingActorAuthor)
	viper.SetDefault("MAX_IMAGE_BYTES", 10<<20)
	viper.SetDefault("MAX_AUDIO_BYTES", 50<<20)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_INITIAL_BACKOFF_MS", 100)
	viper.SetDefault("RETRY_MAX_BACKOFF_MS", 5000)
	viper.SetDefault("RETRY_JITTER", 0.1)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and sane.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	parsed, err := url.Parse(c.BackendURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %q", c.BackendURL)
	}
	if c.BackendAnonKey == "" {
		return errors.New("BACKEND_ANON_KEY is required")
	}
	if c.StorageBucket == "" {
		return errors.New("STORAGE_BUCKET is required")
	}
	if c.FeedbackMinLength < 0 {
		return errors.New("FEEDBACK_MIN_LENGTH must not be negative")
	}
	switch c.HelpfulRatingActor {
	case HelpfulRatingActorAuthor, HelpfulRatingActorOwner:
	default:
		return fmt.Errorf("HELPFUL_RATING_ACTOR must be %q or %q", HelpfulRatingActorAuthor, HelpfulRatingActorOwner)
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if !strings.HasPrefix(c.BackendURL, "https://") {
			return errors.New("BACKEND_URL must use https in production")
		}
		if c.TracingExporter == "stdout" && c.TracingEnabled {
			log.Println("WARNING: TRACING_EXPORTER is 'stdout' in production. Consider 'otlp'.")
		}
	}

	return nil
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RetryInitialBackoff returns the initial retry backoff as a duration.
func (c *Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoffMS) * time.Millisecond
}

// RetryMaxBackoff returns the maximum retry backoff as a duration.
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
}
