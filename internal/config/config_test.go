package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty dir and clears the env aliases Load reads.
func isolate(t *testing.T) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"DATABASE_URL", "BULLETIN_DATABASE_URL", "DATABASE_DRIVER",
		"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY",
		"CIVITAI_API_KEY", "CRON_SECRET", "LOG_LEVEL", "DEBUG", "BULLETIN_DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulletin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Sources.LessWrong.Enabled)
	assert.Contains(t, cfg.Sources.LessWrong.URL, "lesswrong.com")
	assert.Equal(t, "https://huggingface.co", cfg.Sources.HuggingFace.BaseURL)
	assert.Equal(t, "Week", cfg.Sources.Civitai.Period)
	assert.True(t, cfg.Digest.Enabled)
	assert.Equal(t, time.UTC, cfg.Digest.Location())
	assert.Equal(t, 48*time.Hour, Duration(cfg.Digest.Window, 0))
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "1h", cfg.Schedule.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Load caches the first result until Reset.
	again, err := Load("")
	require.NoError(t, err)
	assert.Same(t, cfg, again)
	assert.Same(t, cfg, Get())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/bulletin")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("CIVITAI_API_KEY", "civ-key")

	path := writeConfig(t, `
sources:
  civitai:
    enabled: false
  hf_papers:
    limit: 5
annotation:
  batch_size: 25
digest:
  timezone: America/Los_Angeles
logging:
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.App.ConfigFile)
	assert.Equal(t, "postgres://localhost/bulletin", cfg.Database.ConnectionString)
	assert.Equal(t, "s3cret", cfg.Server.CronSecret)
	assert.Equal(t, "civ-key", cfg.Sources.Civitai.APIKey)
	assert.False(t, cfg.Sources.Civitai.Enabled)
	assert.Equal(t, 5, cfg.Sources.HFPapers.Limit)
	assert.Equal(t, 25, cfg.Annotation.BatchSize)
	assert.Equal(t, "America/Los_Angeles", cfg.Digest.Location().String())
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "ai:\n  gemini:\n    timeout: soon\n"},
		{"bad driver", "database:\n  driver: oracle\n"},
		{"bad timezone", "digest:\n  timezone: Mars/Olympus\n"},
		{"negative batch", "annotation:\n  batch_size: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDebugForcesDebugLogging(t *testing.T) {
	isolate(t)
	t.Setenv("DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("", 5*time.Second))
	assert.Equal(t, 90*time.Second, Duration("90s", time.Second))
	assert.Equal(t, time.Second, Duration("nope", time.Second))
}

func TestHasValidAPIKey(t *testing.T) {
	assert.False(t, HasValidAPIKey(""))
	assert.False(t, HasValidAPIKey("your-api-key"))
	assert.True(t, HasValidAPIKey("AIza-real-looking-key"))
}
