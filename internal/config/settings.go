package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are the runtime knobs of a run. With every field at its default
// a run fetches once, never retries and never times out.
type Settings struct {
	// Root is the directory the install directory is created in. Empty
	// means the invocation (working) directory.
	Root string `mapstructure:"root"`
	// Manifest is a Lua manifest file. Empty means the embedded default.
	Manifest string `mapstructure:"manifest"`
	// URL overrides the manifest url.
	URL string `mapstructure:"url"`
	// Resume skips stages the journal records as complete.
	Resume  bool          `mapstructure:"resume"`
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
	// NoPause disables the "Press Enter" prompt after a failed fetch.
	NoPause bool        `mapstructure:"no_pause"`
	Log     LogSettings `mapstructure:"log"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// NewViper returns a viper instance with defaults and PORTABLE_* environment
// binding. Flags are bound by the caller.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("root", "")
	v.SetDefault("manifest", "")
	v.SetDefault("url", "")
	v.SetDefault("resume", false)
	v.SetDefault("retries", 0)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("no_pause", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// LoadSettings reads the optional settings file and decodes v.
func LoadSettings(v *viper.Viper, settingsFile string) (*Settings, error) {
	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings file %s: %w", settingsFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects values no run can use.
func (s *Settings) Validate() error {
	if s.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", s.Retries)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

// ErrInvalidLevel is returned for an unknown log level.
var ErrInvalidLevel = errors.New("invalid log level")
