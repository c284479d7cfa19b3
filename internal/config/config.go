package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	LLM      LLMConfig
	Locale   LocaleConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LLMConfig holds review-advisor settings.
type LLMConfig struct {
	Provider  string
	APIKeyEnv string
	APIKey    string
	Model     string
}

// LocaleConfig holds presentation settings.
type LocaleConfig struct {
	Timezone string
	Currency string
}

// Load reads configuration from file and env. Env var overrides use prefix KASSENBUCH_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "kassenbuch", "kassenbuch.db"))
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("locale.timezone", "Europe/Berlin")
	v.SetDefault("locale.currency", "EUR")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("KASSENBUCH_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "kassenbuch"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("KASSENBUCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// The API key is stored in plain text in the config file; encourage users to prefer env vars.
func Save(cfg Config) error {
	path := os.Getenv("KASSENBUCH_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "kassenbuch", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("llm.provider", cfg.LLM.Provider)
	v.Set("llm.api_key_env", cfg.LLM.APIKeyEnv)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("locale.timezone", cfg.Locale.Timezone)
	v.Set("locale.currency", cfg.Locale.Currency)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
