package config

import "tinypng/internal/tinify"

const (
	defaultConfigPath     = "~/.config/tinypng/config.toml"
	projectConfigName     = "tinypng.toml"
	defaultMaxConcurrent  = 3
	maxMaxConcurrent      = 32
	defaultRequestTimeout = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"

	envAPIKey        = "TINYPNG_API_KEY"
	envMaxConcurrent = "TINYPNG_MAX_CONCURRENT"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		MaxConcurrentValue: defaultMaxConcurrent,
		Endpoint:           tinify.DefaultEndpoint,
		RequestTimeout:     defaultRequestTimeout,
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
