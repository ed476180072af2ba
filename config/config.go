package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds mirror job configuration.
type Config struct {
	PageURL          string
	OutputRoot       string
	Parallelism      int
	Timeout          time.Duration
	UserAgent        string
	NotebookPrefix   string
	PipelineBuffer   int
	DedupeMaxSize    int
	MetricsAddr      string
	Verbose          bool
	RespectRobotsTxt bool
}

// DefaultConfig returns defaults for the published course page.
func DefaultConfig() *Config {
	return &Config{
		PageURL:          "https://snap.stanford.edu/class/cs224w-2023/",
		OutputRoot:       ".",
		Parallelism:      8,
		Timeout:          30 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		NotebookPrefix:   "CS224W",
		PipelineBuffer:   256,
		DedupeMaxSize:    4096,
		MetricsAddr:      "",
		Verbose:          false,
		RespectRobotsTxt: false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.PageURL == "" {
		return fmt.Errorf("page URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.PageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("page URL must include a host")
	}

	if c.OutputRoot == "" {
		return fmt.Errorf("output root cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.NotebookPrefix == "" {
		return fmt.Errorf("notebook prefix cannot be empty")
	}
	if c.PipelineBuffer <= 0 {
		return fmt.Errorf("pipeline buffer must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
