// Package config provides a reusable loader for the node's configuration
// files and environment variables, layered the way the teacher's
// pkg/config.Load does: a base file, an optional environment-named overlay
// merged on top, then automatic environment-variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brypt-mesh/node/pkg/apperrors"
)

// Config is the unified configuration for one node process.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers" yaml:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers" yaml:"max_peers"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Handshake struct {
		ConnectTimeoutMS int `mapstructure:"connect_timeout_ms" json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
		RetryIntervalMS  int `mapstructure:"retry_interval_ms" json:"retry_interval_ms" yaml:"retry_interval_ms"`
		RetryLimit       int `mapstructure:"retry_limit" json:"retry_limit" yaml:"retry_limit"`
	} `mapstructure:"handshake" json:"handshake" yaml:"handshake"`

	Tracking struct {
		ExpirationMS int `mapstructure:"expiration_ms" json:"expiration_ms" yaml:"expiration_ms"`
		SweepMS      int `mapstructure:"sweep_ms" json:"sweep_ms" yaml:"sweep_ms"`
	} `mapstructure:"tracking" json:"tracking" yaml:"tracking"`

	Diagnostics struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	} `mapstructure:"diagnostics" json:"diagnostics" yaml:"diagnostics"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// Defaults returns a Config populated with spec.md §5's stated defaults.
func Defaults() Config {
	var c Config
	c.Network.ListenAddr = "tcp://0.0.0.0:35216"
	c.Network.MaxPeers = 64
	c.Handshake.ConnectTimeoutMS = 15000
	c.Handshake.RetryIntervalMS = 5000
	c.Handshake.RetryLimit = 3
	c.Tracking.ExpirationMS = 1500
	c.Tracking.SweepMS = 250
	c.Diagnostics.Enabled = true
	c.Diagnostics.ListenAddr = "127.0.0.1:8090"
	c.Logging.Level = "info"
	return c
}

// Load reads a base "default" config file from the given paths and, if env
// is non-empty, merges an environment-named overlay (e.g. "production")
// over it, then applies environment-variable overrides via viper's
// AutomaticEnv. Missing config files are tolerated — Defaults() already
// populates every field viper would otherwise leave zero.
func Load(env string, configPaths ...string) (*Config, error) {
	v := viper.New()
	cfg := Defaults()

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if len(configPaths) == 0 {
		v.AddConfigPath("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, apperrors.Wrap(apperrors.MalformedMessage, "load config", err)
		}
	} else if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.MalformedMessage, fmt.Sprintf("merge %s config", env), err)
		}
	}

	v.SetEnvPrefix("NODE")
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.MalformedMessage, "unmarshal config", err)
	}
	return &cfg, nil
}

// YAML renders the effective configuration back out as YAML, for an
// operator to inspect exactly what a node resolved its settings to
// (bootstrap env vars and overlays included) without re-reading every
// config source by hand.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.MalformedMessage, "marshal config", err)
	}
	return out, nil
}
