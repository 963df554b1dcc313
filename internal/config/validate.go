package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable. A missing API key is not a
// configuration error; items submitted without one fail individually.
func (c *Config) Validate() error {
	if c.MaxConcurrentValue < 1 || c.MaxConcurrentValue > maxMaxConcurrent {
		return fmt.Errorf("max_concurrent must be between 1 and %d", maxMaxConcurrent)
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must be positive")
	}
	if err := c.validateEndpoint(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEndpoint() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "text", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
