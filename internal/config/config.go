package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds everything read from the config file and environment.
type Config struct {
	DBPath   string `mapstructure:"db_path"`
	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`

	// AccountID is the remote account this device syncs under.
	// Empty means anonymous local-only use: sync is disabled.
	AccountID string `mapstructure:"account_id"`

	DeviceName string `mapstructure:"device_name"`

	SyncEnabled       bool `mapstructure:"sync_enabled"`
	DrainIntervalSecs int  `mapstructure:"drain_interval_secs"`
}

// Load reads config.yaml from dir (or the default config dir when dir is
// empty), applying FOCUSDECK_* environment overrides. A missing file is not
// an error; defaults apply.
func Load(dir string) (Config, error) {
	if dir == "" {
		d, err := DefaultConfigDir()
		if err != nil {
			return Config{}, err
		}
		dir = d
	}

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FOCUSDECK")
	v.AutomaticEnv()

	v.SetDefault("db_path", filepath.Join(dir, "focusdeck.db"))
	v.SetDefault("log_path", filepath.Join(dir, "focusdeck.log"))
	v.SetDefault("log_level", "info")
	v.SetDefault("sync_enabled", true)
	v.SetDefault("drain_interval_secs", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// DefaultConfigDir returns ~/.config/focusdeck (per-OS user config dir).
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "focusdeck"), nil
}
