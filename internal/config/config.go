// Package config resolves MicOn's runtime configuration from an optional
// YAML file and MICON_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Audit    AuditConfig   `mapstructure:"audit"`
	Watcher  WatcherConfig `mapstructure:"watcher"`
	Prefs    PrefsConfig   `mapstructure:"prefs"`
}

// AuditConfig carries the keeper's timing knobs.
type AuditConfig struct {
	// Interval between self-audit ticks.
	Interval time.Duration `mapstructure:"interval"`
	// ActivityTimeout is the direct-tap "no input energy" window after which
	// the stream is presumed dead. Heuristic, not a guarantee; 0 disables.
	ActivityTimeout time.Duration `mapstructure:"activity_timeout"`
	// ReconnectDebounce absorbs rapid connect/disconnect churn before a
	// repair attempt.
	ReconnectDebounce time.Duration `mapstructure:"reconnect_debounce"`
	// DisconnectGrace delays the liveness re-check after a bound (but not
	// preferred) device disappears.
	DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
}

type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Settle       time.Duration `mapstructure:"settle"`
}

type PrefsConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from path, or from $HOME/.config/micon/config.yaml
// when path is empty. A missing file is fine; defaults and environment
// variables still apply.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("audit.interval", 10*time.Second)
	v.SetDefault("audit.activity_timeout", 30*time.Second)
	v.SetDefault("audit.reconnect_debounce", time.Second)
	v.SetDefault("audit.disconnect_grace", 2*time.Second)
	v.SetDefault("watcher.poll_interval", time.Second)
	v.SetDefault("watcher.settle", 500*time.Millisecond)
	v.SetDefault("prefs.path", defaultPrefsPath())

	v.SetEnvPrefix("MICON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "micon"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Running without a config file is normal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Cause(err)) {
			return Config{}, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	if cfg.Audit.Interval <= 0 {
		cfg.Audit.Interval = 10 * time.Second
	}
	if cfg.Watcher.PollInterval <= 0 {
		cfg.Watcher.PollInterval = time.Second
	}
	if cfg.Prefs.Path == "" {
		cfg.Prefs.Path = defaultPrefsPath()
	}
	return cfg, nil
}

func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "preferred_device.json"
	}
	return filepath.Join(home, ".config", "micon", "preferred_device.json")
}
