package config

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads config.yaml and fills unset fields with defaults. Missing file is
// an error; callers that tolerate an uninitialized workspace use Default().
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yamlv3.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if cfg.Context.CharsPerToken <= 0 {
		return nil, fmt.Errorf("context.chars_per_token must be positive, got %d", cfg.Context.CharsPerToken)
	}
	if cfg.Routing.Backend != BackendLocal && cfg.Routing.Backend != BackendRemote {
		return nil, fmt.Errorf("routing.backend must be %q or %q, got %q", BackendLocal, BackendRemote, cfg.Routing.Backend)
	}
	if cfg.Routing.Backend == BackendRemote && cfg.Routing.APIURL == "" {
		return nil, fmt.Errorf("routing.api_url is required for the remote backend")
	}

	return cfg, nil
}

// Save writes the config atomically: temp file in the same directory, fsync,
// rename. A .bak copy of any previous config is kept alongside.
func Save(path string, cfg *Config) error {
	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mcoda-cfg-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if prev, err := os.ReadFile(path); err == nil {
			_ = os.WriteFile(path+".bak", prev, 0644)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = def.SchemaVersion
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = def.Storage.DBPath
	}
	if cfg.Storage.MaxMessages == 0 {
		cfg.Storage.MaxMessages = def.Storage.MaxMessages
	}
	if cfg.Storage.MaxBytesPerLane == 0 {
		cfg.Storage.MaxBytesPerLane = def.Storage.MaxBytesPerLane
	}
	if cfg.Context.CharsPerToken == 0 {
		cfg.Context.CharsPerToken = def.Context.CharsPerToken
	}
	if cfg.Context.DefaultTokenLimit == 0 {
		cfg.Context.DefaultTokenLimit = def.Context.DefaultTokenLimit
	}
	if cfg.Routing.Backend == "" {
		cfg.Routing.Backend = def.Routing.Backend
	}
	if cfg.Events.MaxLogSizeBytes == 0 {
		cfg.Events.MaxLogSizeBytes = def.Events.MaxLogSizeBytes
	}
}
