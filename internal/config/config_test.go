package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypng/internal/config"
	"tinypng/internal/tinify"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TINYPNG_API_KEY", "")
	t.Setenv("TINYPNG_MAX_CONCURRENT", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(home, ".config", "tinypng", "config.toml"), resolved)

	assert.Equal(t, 3, cfg.MaxConcurrent())
	assert.Equal(t, tinify.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeoutDuration())
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)

	_, ok := cfg.APIKey()
	assert.False(t, ok)
}

func TestLoadProjectFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("tinypng.toml", []byte(`
api_key = "abc123"
max_concurrent = 5

[logging]
format = "JSON"
level = "debug"
file = "logs/tinypng.log"
`), 0o600))

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "tinypng.toml", filepath.Base(resolved))

	key, ok := cfg.APIKey()
	assert.True(t, ok)
	assert.Equal(t, "abc123", key)
	assert.Equal(t, 5, cfg.MaxConcurrent())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, filepath.IsAbs(cfg.Logging.File))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("api_key = \"file-key\"\nmax_concurrent = 2\n"), 0o600))

	cfg, _, _, err := config.Load(path)
	require.NoError(t, err)

	t.Setenv("TINYPNG_API_KEY", "env-key")
	t.Setenv("TINYPNG_MAX_CONCURRENT", "7")
	key, ok := cfg.APIKey()
	assert.True(t, ok)
	assert.Equal(t, "env-key", key)
	assert.Equal(t, 7, cfg.MaxConcurrent())

	t.Setenv("TINYPNG_MAX_CONCURRENT", "zero")
	assert.Equal(t, 2, cfg.MaxConcurrent())
}

func TestAPIKeyRejectsWhitespaceAndControl(t *testing.T) {
	isolate(t)
	for _, key := range []string{"", "has space", "tab\tkey", "bell\x07"} {
		cfg := config.Default()
		cfg.APIKeyValue = key
		_, ok := cfg.APIKey()
		assert.False(t, ok, "key %q", key)
		assert.Error(t, cfg.SetAPIKey(key))
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	isolate(t)
	tests := map[string]string{
		"negative concurrency": "max_concurrent = -1\n",
		"huge concurrency":     "max_concurrent = 1000\n",
		"bad endpoint":         "endpoint = \"ftp://example.com\"\n",
		"bad format":           "[logging]\nformat = \"xml\"\n",
		"bad level":            "[logging]\nlevel = \"loud\"\n",
		"not toml":             "api_key = \n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, _, _, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTripsWithoutEnvironment(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := config.Default()
	require.NoError(t, cfg.SetAPIKey("saved-key"))
	require.NoError(t, cfg.SetMaxConcurrent(4))
	t.Setenv("TINYPNG_API_KEY", "env-only")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var onDisk config.Config
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, toml.Unmarshal(data, &onDisk))
	assert.Equal(t, "saved-key", onDisk.APIKeyValue)
	assert.Equal(t, 4, onDisk.MaxConcurrentValue)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestConcurrentSavesLeaveValidFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cfg := config.Default()
			_ = cfg.SetMaxConcurrent(n)
			assert.NoError(t, cfg.Save(path))
		}(i)
	}
	wg.Wait()

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.GreaterOrEqual(t, cfg.MaxConcurrent(), 1)
	assert.LessOrEqual(t, cfg.MaxConcurrent(), 8)
}

func TestSetMaxConcurrentRange(t *testing.T) {
	cfg := config.Default()
	assert.Error(t, cfg.SetMaxConcurrent(0))
	assert.Error(t, cfg.SetMaxConcurrent(33))
	assert.NoError(t, cfg.SetMaxConcurrent(32))
}

func TestMaskedAPIKey(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "", cfg.MaskedAPIKey())
	cfg.APIKeyValue = "abcd"
	assert.Equal(t, "****", cfg.MaskedAPIKey())
	cfg.APIKeyValue = "abcdefgh"
	assert.Equal(t, "****efgh", cfg.MaskedAPIKey())
}

func TestCreateSampleLoads(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sample", "config.toml")
	require.NoError(t, config.CreateSample(path))

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 3, cfg.MaxConcurrent())
	_, ok := cfg.APIKey()
	assert.False(t, ok)
}
