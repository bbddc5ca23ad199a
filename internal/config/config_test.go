package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("should validate out of the box", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.Equal(t, 10, cfg.Agent.MaxSteps)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should reject an unknown provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider.Name = "mystery"
		assert.ErrorContains(t, cfg.Validate(), "unknown provider")
	})

	t.Run("should require a model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider.Model = ""
		assert.ErrorContains(t, cfg.Validate(), "model is required")
	})

	t.Run("should reject negative bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.MaxSteps = -1
		assert.ErrorContains(t, cfg.Validate(), "max_steps")

		cfg = DefaultConfig()
		cfg.Planning.Interval = -2
		assert.ErrorContains(t, cfg.Validate(), "planning interval")
	})
}

func TestLoader(t *testing.T) {
	t.Run("should fall back to defaults without a file", func(t *testing.T) {
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.NotEmpty(t, cfg.Store.Path)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("should load values from a config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "arka.json")
		body := `{
			"provider": {"name": "openai", "model": "gpt-5"},
			"agent": {"max_steps": 25},
			"planning": {"interval": 4}
		}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, "gpt-5", cfg.Provider.Model)
		assert.Equal(t, 25, cfg.Agent.MaxSteps)
		assert.Equal(t, 4, cfg.Planning.Interval)
	})

	t.Run("should take the API key from the environment", func(t *testing.T) {
		t.Setenv("ARKA_API_KEY", "sk-test")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	})

	t.Run("should round trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "arka.json")
		loader := NewLoader(path)

		cfg := DefaultConfig()
		cfg.Provider.Model = "claude-haiku-4-5"
		cfg.Agent.MaxSteps = 7
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "claude-haiku-4-5", loaded.Provider.Model)
		assert.Equal(t, 7, loaded.Agent.MaxSteps)
	})
}

func TestString(t *testing.T) {
	t.Run("should mask the API key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider.APIKey = "sk-secret"

		out := cfg.String()
		assert.NotContains(t, out, "sk-secret")
		assert.Contains(t, out, "***")
	})
}
