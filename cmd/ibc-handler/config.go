// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/blinklabs-io/goibc/address"
)

const (
	defaultRelayerAddress = "127.0.0.1:7400"
	defaultMetricsAddress = ":9400"
	defaultLogLevel       = "info"
)

type Config struct {
	RelayerAddress string        `toml:"relayer_address"`
	DataDir        string        `toml:"data_dir"`
	LogLevel       string        `toml:"log_level"`
	MetricsAddress string        `toml:"metrics_address"`
	DefaultTimeout time.Duration `toml:"default_timeout"`
	EchoPorts      []string      `toml:"echo_ports"`
}

// LoadConfig reads the TOML file at path, if any, and fills in defaults
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
	}
	if cfg.RelayerAddress == "" {
		cfg.RelayerAddress = defaultRelayerAddress
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = defaultMetricsAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultTimeout < 0 {
		return errors.New("default_timeout must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.EchoPorts))
	for _, portID := range c.EchoPorts {
		if !address.ValidIdentifier(portID) {
			return fmt.Errorf("echo_ports: invalid port identifier %q", portID)
		}
		if seen[portID] {
			return fmt.Errorf("echo_ports: duplicate port identifier %q", portID)
		}
		seen[portID] = true
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
