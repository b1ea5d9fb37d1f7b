// Package config loads the coordinator's runtime configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultDataDir            = "data"
	defaultStorage            = "sqlite"
	defaultMaxConcurrentTasks = 3
	defaultSyncIntervalSec    = 1
)

// Config describes runtime configuration for the coordinator.
type Config struct {
	Port               int    `yaml:"port"`
	DataDir            string `yaml:"data_dir"`
	Storage            string `yaml:"storage"` // "sqlite" or "memory"
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	SyncIntervalSec    int    `yaml:"sync_interval_sec"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		Storage:            defaultStorage,
		MaxConcurrentTasks: defaultMaxConcurrentTasks,
		SyncIntervalSec:    defaultSyncIntervalSec,
	}
}

// Load reads YAML config from the provided path. A missing or empty file
// yields defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	switch cfg.Storage {
	case "":
		cfg.Storage = defaultStorage
	case "sqlite", "memory":
	default:
		return cfg, fmt.Errorf("invalid storage %q (must be sqlite or memory)", cfg.Storage)
	}
	if cfg.MaxConcurrentTasks < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	if cfg.SyncIntervalSec < 1 {
		return cfg, fmt.Errorf("invalid sync_interval_sec: %d (must be >= 1)", cfg.SyncIntervalSec)
	}
	return cfg, nil
}
