package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type cliConfig struct {
	APIURL      string        `mapstructure:"API_URL"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	Timeout     time.Duration `mapstructure:"TIMEOUT"`
}

// loadConfig reads SLOTCTL_* environment variables and an optional
// slotctl.yaml in the working directory.
func loadConfig() (cliConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("SLOTCTL")
	v.SetConfigName("slotctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("API_URL", "http://localhost:8083")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TIMEOUT", "10s")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cliConfig{}, err
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cliConfig{}, err
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg, nil
}
