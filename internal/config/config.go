package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultTokenLimit        = 8192
	DefaultEncoding          = "heuristic"
	DefaultRetentionIdleDays = 30
)

type Config struct {
	Store     StoreConfig     `json:"store"`
	Recall    RecallConfig    `json:"recall"`
	Retention RetentionConfig `json:"retention"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// RecallConfig describes the processing chain applied on recall. A nil
// stage list means the default chain; an explicit empty list disables
// processing entirely.
type RecallConfig struct {
	Encoding string        `json:"encoding"`
	Stages   []StageConfig `json:"stages"`
}

// StageConfig is one chain stage. Type selects the stage; the remaining
// fields apply only to the types that read them.
type StageConfig struct {
	Type       string   `json:"type"`
	Name       string   `json:"name,omitempty"`
	TokenLimit int      `json:"tokenLimit,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
	Kinds      []string `json:"kinds,omitempty"`
	MaxBytes   int      `json:"maxBytes,omitempty"`
}

type RetentionConfig struct {
	IdleDays     int    `json:"idleDays"`
	PruneSpec    string `json:"pruneSpec,omitempty"`
	OptimizeSpec string `json:"optimizeSpec,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), "history.db"),
		},
		Recall: RecallConfig{
			Encoding: DefaultEncoding,
			Stages: []StageConfig{
				{Type: "token_limit", TokenLimit: DefaultTokenLimit},
			},
		},
		Retention: RetentionConfig{
			IdleDays: DefaultRetentionIdleDays,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".recallpipe")
}

func ConfigPath() string {
	if path := os.Getenv("RECALLPIPE_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if dbPath := os.Getenv("RECALLPIPE_DB"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if encoding := os.Getenv("RECALLPIPE_ENCODING"); encoding != "" {
		cfg.Recall.Encoding = encoding
	}
	if limit := os.Getenv("RECALLPIPE_TOKEN_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			for i := range cfg.Recall.Stages {
				if cfg.Recall.Stages[i].Type == "token_limit" {
					cfg.Recall.Stages[i].TokenLimit = parsed
				}
			}
		}
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = DefaultConfig().Store.DBPath
	}
	if cfg.Recall.Encoding == "" {
		cfg.Recall.Encoding = DefaultEncoding
	}
	if cfg.Recall.Stages == nil {
		cfg.Recall.Stages = DefaultConfig().Recall.Stages
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := filepath.Dir(ConfigPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
