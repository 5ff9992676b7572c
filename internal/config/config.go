package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Model   ModelConfig   `mapstructure:"model_settings"`
	Search  SearchConfig  `mapstructure:"search_settings"`
	User    UserConfig    `mapstructure:"user_data"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
	Display DisplayConfig `mapstructure:"display"`
}

// ModelConfig covers the Ollama service and both models
type ModelConfig struct {
	OllamaURL          string        `mapstructure:"ollama_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MainModel          string        `mapstructure:"main_model"`
	SearchModel        string        `mapstructure:"search_model"`
	MainThinking       bool          `mapstructure:"main_thinking"`
	SearchThinking     bool          `mapstructure:"search_thinking"`
	KeepAlive          time.Duration `mapstructure:"keep_alive"`
	NumCtx             int           `mapstructure:"num_ctx"`
	InitialContext     string        `mapstructure:"initial_context"`
	SystemInstructions string        `mapstructure:"system_instructions"`
}

// SearchConfig covers SearXNG and page fetching
type SearchConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SearXNGURL     string        `mapstructure:"searxng_url"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	MaxResults     int           `mapstructure:"max_results"`
	CrawlTimeout   time.Duration `mapstructure:"crawl_timeout"`
	MaxCrawlers    int           `mapstructure:"max_crawlers"`
	MaxContentSize int64         `mapstructure:"max_content_size"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// UserConfig is free-form profile text shared with the models
type UserConfig struct {
	Profile string `mapstructure:"profile"`
}

// HistoryConfig covers session persistence
type HistoryConfig struct {
	DBPath      string `mapstructure:"db_path"`
	StartupList int    `mapstructure:"startup_list"`
}

// LoggingConfig covers the log file
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DisplayConfig covers terminal output
type DisplayConfig struct {
	ShowThinking bool `mapstructure:"show_thinking"`
	RefreshRate  int  `mapstructure:"refresh_rate"`
}

const envPrefix = "OLLAMA_CHAT"

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model_settings.ollama_url", "http://localhost:11434")
	v.SetDefault("model_settings.timeout", 120*time.Second)
	v.SetDefault("model_settings.main_model", "qwen3:8b")
	v.SetDefault("model_settings.search_model", "")
	v.SetDefault("model_settings.main_thinking", true)
	v.SetDefault("model_settings.search_thinking", false)
	v.SetDefault("model_settings.keep_alive", 60*time.Second)
	v.SetDefault("model_settings.num_ctx", 16384)
	v.SetDefault("model_settings.initial_context", "You are a helpful assistant running in a terminal chat client.")
	v.SetDefault("model_settings.system_instructions", "Answer accurately and concisely. When internet search results are provided, use them and cite the source numbers.")

	v.SetDefault("search_settings.enabled", true)
	v.SetDefault("search_settings.searxng_url", "http://localhost:9090")
	v.SetDefault("search_settings.search_timeout", 10*time.Second)
	v.SetDefault("search_settings.max_results", 5)
	v.SetDefault("search_settings.crawl_timeout", 8*time.Second)
	v.SetDefault("search_settings.max_crawlers", 5)
	v.SetDefault("search_settings.max_content_size", 5*1024*1024)
	v.SetDefault("search_settings.user_agent", "ollama-chat/1.0")

	v.SetDefault("user_data.profile", "")

	v.SetDefault("history.db_path", "~/.ollama-chat/history.db")
	v.SetDefault("history.startup_list", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "~/.ollama-chat/chat.log")

	v.SetDefault("display.show_thinking", true)
	v.SetDefault("display.refresh_rate", 12)
}

// Load reads config.toml from path, or from the working directory and
// ~/.ollama-chat when path is empty. A missing file leaves the defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ollama-chat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Model.SearchModel == "" {
		cfg.Model.SearchModel = cfg.Model.MainModel
	}
	cfg.History.DBPath = ExpandHome(cfg.History.DBPath)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Model.OllamaURL == "" {
		return fmt.Errorf("ollama URL cannot be empty")
	}
	if c.Model.MainModel == "" {
		return fmt.Errorf("main model cannot be empty")
	}
	if c.Model.NumCtx < 0 {
		return fmt.Errorf("num_ctx cannot be negative")
	}
	if c.Search.Enabled && c.Search.SearXNGURL == "" {
		return fmt.Errorf("searxng URL cannot be empty when search is enabled")
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 10 {
		return fmt.Errorf("max results must be between 1 and 10")
	}
	if c.Search.MaxCrawlers < 1 {
		return fmt.Errorf("max crawlers must be at least 1")
	}
	if c.History.DBPath == "" {
		return fmt.Errorf("history db path cannot be empty")
	}
	if c.Display.RefreshRate < 1 {
		return fmt.Errorf("refresh rate must be at least 1")
	}
	return nil
}

// RefreshInterval is the minimum gap between progress redraws
func (c *Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.Display.RefreshRate)
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
