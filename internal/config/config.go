package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"ledger/internal/core"
)

type Config struct {
	// Backend
	BaseURL     string
	Token       string
	HTTPTimeout time.Duration

	// Session
	Role    string
	MonthID int64

	// Blob cache
	BlobStore string
	BlobDir   string

	// Logging
	LogLevel  string
	LogFormat string

	// AMQP lifecycle events (optional)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

var validBlobStores = []string{"memory", "tempfile"}

func Load() *Config {
	cfg := &Config{
		BaseURL:     getEnv("LEDGER_BASE_URL", "http://localhost:8000"),
		Token:       getEnv("LEDGER_TOKEN", ""),
		HTTPTimeout: getEnvDuration("LEDGER_HTTP_TIMEOUT", 60*time.Second),

		Role:    getEnv("LEDGER_ROLE", string(core.RoleAccountant)),
		MonthID: getEnvInt64("LEDGER_MONTH_ID", 0),

		BlobStore: getEnv("LEDGER_BLOB_STORE", "memory"),
		BlobDir:   getEnv("LEDGER_BLOB_DIR", os.TempDir()),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "ledger.events"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.BaseURL == "" {
		errors = append(errors, "backend base URL cannot be empty")
	} else if u, err := url.Parse(c.BaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': %v", c.BaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}

	if c.HTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 1 second", c.HTTPTimeout))
	}

	if !core.Role(strings.ToLower(c.Role)).IsValid() {
		errors = append(errors, fmt.Sprintf("invalid role '%s': must be one of admin, accountant, viewer", c.Role))
	}

	if c.MonthID < 0 {
		errors = append(errors, fmt.Sprintf("invalid month id %d: must not be negative", c.MonthID))
	}

	if !slices.Contains(validBlobStores, c.BlobStore) {
		errors = append(errors, fmt.Sprintf("invalid blob store '%s': must be one of %v", c.BlobStore, validBlobStores))
	}
	if c.BlobStore == "tempfile" {
		if st, err := os.Stat(c.BlobDir); err != nil {
			errors = append(errors, fmt.Sprintf("blob directory '%s' is not accessible: %v", c.BlobDir, err))
		} else if !st.IsDir() {
			errors = append(errors, fmt.Sprintf("blob directory '%s' is not a directory", c.BlobDir))
		}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
