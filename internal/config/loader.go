package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment. Environment
// variables use the XUIGRAM_ prefix with underscores for nesting, e.g.
// XUIGRAM_TELEGRAM_BOT_TOKEN.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".xuigram", "xuigram.json")
	}

	v := viper.New()
	v.SetEnvPrefix("XUIGRAM")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	bindEnvKeys(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".xuigram")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "xuigram.log")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".xuigram", "xuigram.json")
}

// bindEnvKeys registers the keys viper should resolve from the environment.
// AutomaticEnv alone cannot discover nested keys that are absent from the
// config file, so each one is bound explicitly.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"telegram.bot_token",
		"telegram.bot_name",
		"panel.protocol",
		"panel.host",
		"panel.port",
		"panel.web_base_path",
		"panel.username",
		"panel.password",
		"panel.inbound_remark",
		"panel.insecure_skip_verify",
		"server.address",
		"provision.initial_gb",
		"provision.initial_days",
		"provision.renewal_gb",
		"provision.renewal_days",
		"dispatch.cursor_file",
		"logging.level",
		"logging.file",
		"logging.max_size_mb",
		"logging.max_age",
		"metrics.listen",
		"data_dir",
	}
	for _, k := range keys {
		// BindEnv only errors on an empty key
		_ = v.BindEnv(k)
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
