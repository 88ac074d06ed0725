// Package config layers defaults, an optional config file, ABCXML_*
// environment variables and command line flags.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/jsphweid/abcxml/constants"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "ABCXML"

type Config struct {
	OutputDir string        `mapstructure:"output_dir"`
	Workers   int           `mapstructure:"workers"`
	Strict    bool          `mapstructure:"strict"`
	LogLevel  string        `mapstructure:"log_level"`
	Addr      string        `mapstructure:"addr"`
	Debounce  time.Duration `mapstructure:"debounce"`
	// MaxFiles caps how many files one batch run converts; 0 is unlimited.
	MaxFiles int `mapstructure:"max_files"`
}

func Default() *Config {
	return &Config{
		OutputDir: constants.DefaultOutDir,
		Workers:   runtime.NumCPU(),
		LogLevel:  "info",
		Addr:      ":8080",
		Debounce:  500 * time.Millisecond,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("strict", d.Strict)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("max_files", d.MaxFiles)
}

// Load reads path when it is non-empty, otherwise an optional abcxml.yaml in
// the working directory. Flags that were set on the command line win over
// everything else; flag names use dashes for the underscored keys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("abcxml")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "binding flag %s", f.Name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxFiles < 0 {
		return errors.Errorf("max_files must not be negative, got %d", c.MaxFiles)
	}
	if c.Debounce < 0 {
		return errors.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is empty")
	}
	return nil
}
