// Package config defines the mcoda workspace configuration loaded from
// .mcoda/config.yaml.
package config

type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	Workspace     WorkspaceConfig `yaml:"workspace"`
	Storage       StorageConfig   `yaml:"storage"`
	Context       ContextConfig   `yaml:"context"`
	Routing       RoutingConfig   `yaml:"routing"`
	Events        EventsConfig    `yaml:"events"`
}

type WorkspaceConfig struct {
	ID   string `yaml:"id"`
	Root string `yaml:"root"`
}

type StorageConfig struct {
	DBPath          string `yaml:"db_path"`
	MaxMessages     int    `yaml:"max_messages"`
	MaxBytesPerLane int64  `yaml:"max_bytes_per_lane"`
}

type ContextConfig struct {
	CharsPerToken     int            `yaml:"chars_per_token"`
	DefaultTokenLimit int            `yaml:"default_token_limit"`
	ModelTokenLimits  map[string]int `yaml:"model_token_limits,omitempty"`
}

type RoutingConfig struct {
	Backend  string `yaml:"backend"` // "local" or "remote"
	APIURL   string `yaml:"api_url,omitempty"`
	APIToken string `yaml:"api_token,omitempty"`
}

type EventsConfig struct {
	MaxLogSizeBytes int64 `yaml:"max_log_size_bytes"`
}

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

func Default() *Config {
	return &Config{
		SchemaVersion: 1,
		Storage: StorageConfig{
			DBPath:          ".mcoda/mcoda.db",
			MaxMessages:     200,
			MaxBytesPerLane: 1 << 20,
		},
		Context: ContextConfig{
			CharsPerToken:     4,
			DefaultTokenLimit: 128000,
		},
		Routing: RoutingConfig{
			Backend: BackendLocal,
		},
		Events: EventsConfig{
			MaxLogSizeBytes: 100 * 1024 * 1024,
		},
	}
}
