package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Media       MediaConfig               `json:"media"`
}

type BasicConfig struct {
	ServerAddress   string `json:"server_address"`
	DefaultProvider string `json:"default_provider"`
	PoolSize        int    `json:"pool_size"`
	PoolWaitSeconds int    `json:"pool_wait_seconds"`
	StreamTimeout   int    `json:"stream_timeout_seconds"`
	UpstreamRetries int    `json:"upstream_retries"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DB          int    `json:"db"`
	SnapshotTTL int    `json:"snapshot_ttl_minutes"`
	Enabled     bool   `json:"enabled"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// MediaConfig selects where uploaded media lives. Backend is "local" or
// "s3"; Model is the multimodal model the media specialist invokes.
type MediaConfig struct {
	Backend string `json:"backend"`
	BaseDir string `json:"base_dir"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"`
	Region  string `json:"region"`
	Model   string `json:"model"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}
	if cfg.BasicConfig.DefaultProvider == "" {
		return nil, fmt.Errorf("default_provider must be configured")
	}
	if _, ok := cfg.Providers[cfg.BasicConfig.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %s not configured", cfg.BasicConfig.DefaultProvider)
	}

	if cfg.Media.Backend == "" {
		cfg.Media.Backend = "local"
	}
	if cfg.Media.Backend == "local" {
		if cfg.Media.BaseDir == "" {
			cfg.Media.BaseDir = "./data/uploads"
		}
		if !filepath.IsAbs(cfg.Media.BaseDir) {
			cfg.Media.BaseDir = filepath.Join(filepath.Dir(absPath), cfg.Media.BaseDir)
		}
	}

	for name, db := range cfg.Databases {
		if db.DSN != "" && !filepath.IsAbs(db.DSN) && name != "mysql" {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}
