package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verdant.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8, config.Pipeline.Concurrency)
	assert.Equal(t, 3, config.Pipeline.MaxAttempts)
	assert.Equal(t, "cosine", config.Dedup.Metric)
	assert.Equal(t, 0.08, config.Dedup.Threshold)
	assert.Equal(t, 224, config.Validator.MinWidth)
	require.NoError(t, config.Validate())
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
concurrency = 2
fetch_timeout = "10s"

[dedup]
metric = "euclidean"
threshold = 0.5
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 2, config.Pipeline.Concurrency)
	assert.Equal(t, 10*time.Second, config.Pipeline.FetchTimeout.Std())
	assert.Equal(t, "euclidean", config.Dedup.Metric)
	assert.Equal(t, 0.5, config.Dedup.Threshold)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, config.Pipeline.MaxAttempts)
	assert.Equal(t, []string{"jpeg", "png", "webp"}, config.Validator.AllowedFormats)
}

func TestDurationStringsDecodeAcrossSections(t *testing.T) {
	path := writeConfig(t, `
[pipeline]
rate_period = "500ms"
backoff_base = "250ms"
backoff_max = "2s"
fetch_timeout = "15s"

[embedding]
timeout = "90s"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, config.Pipeline.RatePeriod.Std())
	assert.Equal(t, 250*time.Millisecond, config.Pipeline.BackoffBase.Std())
	assert.Equal(t, 2*time.Second, config.Pipeline.BackoffMax.Std())
	assert.Equal(t, 15*time.Second, config.Pipeline.FetchTimeout.Std())
	assert.Equal(t, 90*time.Second, config.Embedding.Timeout.Std())
}

func TestLaterFilesWin(t *testing.T) {
	first := writeConfig(t, "[pipeline]\nconcurrency = 2\n")
	second := writeConfig(t, "[pipeline]\nconcurrency = 16\n")

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, 16, config.Pipeline.Concurrency)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("VERDANT_CONCURRENCY", "32")
	t.Setenv("VERDANT_LOG_LEVEL", "debug")
	t.Setenv("VERDANT_SOURCES_DIR", "/tmp/sources")

	config, err := LoadFromFiles(writeConfig(t, "[pipeline]\nconcurrency = 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 32, config.Pipeline.Concurrency)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "/tmp/sources", config.Sources.Dir)
}

func TestInvalidMetricFailsValidation(t *testing.T) {
	_, err := LoadFromFiles(writeConfig(t, "[dedup]\nmetric = \"manhattan\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestGeminiProviderRequiresAPIKey(t *testing.T) {
	_, err := LoadFromFiles(writeConfig(t, "[embedding]\nprovider = \"gemini\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestMissingFileFails(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, true, "/tmp/export.jsonl")
	assert.True(t, config.Pipeline.Force)
	assert.Equal(t, "/tmp/export.jsonl", config.Export.Path)

	// Empty flag values leave the config untouched.
	config2 := NewDefaultConfig()
	config2.Export.Path = "configured.jsonl"
	ApplyFlagOverrides(config2, false, "")
	assert.False(t, config2.Pipeline.Force)
	assert.Equal(t, "configured.jsonl", config2.Export.Path)
}

func TestNewItemIDIsDeterministic(t *testing.T) {
	a := NewItemID("src", "https://example.org/x.jpg")
	b := NewItemID("src", "https://example.org/x.jpg")
	c := NewItemID("other", "https://example.org/x.jpg")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "itm_")
}

func TestDefaultRateLimit(t *testing.T) {
	config := NewDefaultConfig()
	rl := config.DefaultRateLimit()
	assert.Equal(t, 5, rl.Calls)
	assert.Equal(t, time.Second, rl.Period.Std())
}
