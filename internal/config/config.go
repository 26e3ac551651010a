// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves .memodb/config.yaml, the local
// configuration for a store instance: where its blocks live, how the
// server and evaluator are sized, and which remote stores it federates
// with.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".memodb"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config is the top-level .memodb/config.yaml document.
type Config struct {
	Version string        `yaml:"version"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Eval    EvalConfig    `yaml:"eval"`
	Remotes []RemoteEntry `yaml:"remotes,omitempty"`
}

// StoreConfig selects and configures the local block store backend.
type StoreConfig struct {
	// Backend is "memory" or "carfile".
	Backend string `yaml:"backend"`
	// Path is the CAR file path when Backend is "carfile".
	Path string `yaml:"path,omitempty"`
}

// ServerConfig configures the HTTP transport server.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	MaxConnections    int    `yaml:"max_connections"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// EvalConfig configures the local memoizing evaluator.
type EvalConfig struct {
	Workers int `yaml:"workers"`
}

// RemoteEntry names a remote store this instance can pull blocks from or
// push evaluation work to.
type RemoteEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Default returns a configuration with sensible defaults for local,
// standalone use.
func Default() *Config {
	return &Config{
		Version: configVersion,
		Store: StoreConfig{
			Backend: "memory",
		},
		Server: ServerConfig{
			Addr:              getEnv("MEMODB_ADDR", ":8765"),
			MaxConnections:    8,
			RequestTimeoutSec: 60,
		},
		Eval: EvalConfig{
			Workers: 4,
		},
	}
}

// Load reads a config file. If path is empty, it searches the current
// directory and its ancestors for .memodb/config.yaml, falling back to
// Default() if none is found.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MEMODB_CONFIG_PATH")
	}
	if path == "" {
		found, err := findConfigFile()
		if err != nil {
			return Default(), nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Version != configVersion {
		return nil, fmt.Errorf("config: unsupported version %q (expected %q)", cfg.Version, configVersion)
	}
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Path returns the canonical config path under dir.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: getwd: %w", err)
	}
	for {
		candidate := Path(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("config: no %s found in %s or its ancestors", defaultConfigFile, dir)
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MEMODB_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if backend := os.Getenv("MEMODB_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
