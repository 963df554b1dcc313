// Package config loads and persists tinypng settings.
//
// Settings live in a TOML file resolved from --config, then
// ~/.config/tinypng/config.toml, then ./tinypng.toml. TINYPNG_API_KEY and
// TINYPNG_MAX_CONCURRENT take precedence over the file and are read on every
// access, so a key exported after startup is picked up by the next admission.
package config
