package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir keeps a stray config.toml in the working directory out of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:11434", cfg.Model.OllamaURL)
	assert.Equal(t, cfg.Model.MainModel, cfg.Model.SearchModel, "search model defaults to main model")
	assert.Equal(t, 60*time.Second, cfg.Model.KeepAlive)
	assert.Equal(t, 16384, cfg.Model.NumCtx)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, time.Second/12, cfg.RefreshInterval())
	assert.True(t, filepath.IsAbs(cfg.History.DBPath))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[model_settings]
main_model = "deepseek-r1:8b"
search_model = "qwen3:1.7b"
main_thinking = false
keep_alive = "5m"

[search_settings]
max_results = 3

[user_data]
profile = "Name: Sam. Lives in Boston."

[history]
db_path = "`+filepath.ToSlash(filepath.Join(dir, "h.db"))+`"
`), 0600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "deepseek-r1:8b", cfg.Model.MainModel)
	assert.Equal(t, "qwen3:1.7b", cfg.Model.SearchModel)
	assert.False(t, cfg.Model.MainThinking)
	assert.Equal(t, 5*time.Minute, cfg.Model.KeepAlive)
	assert.Equal(t, 3, cfg.Search.MaxResults)
	assert.Equal(t, "Name: Sam. Lives in Boston.", cfg.User.Profile)
	assert.Equal(t, filepath.Join(dir, "h.db"), filepath.FromSlash(cfg.History.DBPath))
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OLLAMA_CHAT_MODEL_SETTINGS_MAIN_MODEL", "llama3.2:3b")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2:3b", cfg.Model.MainModel)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load(viper.New(), "")
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"no url":          func(c *Config) { c.Model.OllamaURL = "" },
		"no model":        func(c *Config) { c.Model.MainModel = "" },
		"too many":        func(c *Config) { c.Search.MaxResults = 11 },
		"no crawlers":     func(c *Config) { c.Search.MaxCrawlers = 0 },
		"no refresh rate": func(c *Config) { c.Display.RefreshRate = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ollama-chat/x.db"), ExpandHome("~/.ollama-chat/x.db"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}
