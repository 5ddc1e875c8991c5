package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polytronicgr/chunkdb/internal/model"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID string `yaml:"node_id"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// ClusterConfig holds the cluster-wide compatibility settings every
// joining node must match, plus join behavior.
type ClusterConfig struct {
	ConnectionString          string        `yaml:"connection_string"`
	MaxChunkItemCount         int           `yaml:"max_chunk_item_count"`
	MaxChunkSize              int64         `yaml:"max_chunk_size"`
	RedundantNodesPerLocation int           `yaml:"redundant_nodes_per_location"`
	JoinTimeout               time.Duration `yaml:"join_timeout"`
}

// StorageConfig holds chunk storage configuration
type StorageConfig struct {
	DataDir          string        `yaml:"data_dir"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	SnapshotWorkers  int           `yaml:"snapshot_workers"`
}

// ExchangeConfig holds message exchange transport configuration
type ExchangeConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for a chunk store node
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Storage  StorageConfig  `yaml:"storage"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ClusterSettings returns the settings blob the join handshake compares.
func (c *Config) ClusterSettings() model.ClusterSettings {
	return model.ClusterSettings{
		ConnectionString:          c.Cluster.ConnectionString,
		MaxChunkItemCount:         c.Cluster.MaxChunkItemCount,
		MaxChunkSize:              c.Cluster.MaxChunkSize,
		RedundantNodesPerLocation: c.Cluster.RedundantNodesPerLocation,
	}
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 40100
	}

	if cfg.Cluster.MaxChunkItemCount == 0 {
		cfg.Cluster.MaxChunkItemCount = 1000
	}
	if cfg.Cluster.MaxChunkSize == 0 {
		cfg.Cluster.MaxChunkSize = 4194304 // 4MB
	}
	if cfg.Cluster.RedundantNodesPerLocation == 0 {
		cfg.Cluster.RedundantNodesPerLocation = 1
	}
	if cfg.Cluster.JoinTimeout == 0 {
		cfg.Cluster.JoinTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/chunkdb"
	}
	if cfg.Storage.SnapshotInterval == 0 {
		cfg.Storage.SnapshotInterval = 10 * time.Second
	}
	if cfg.Storage.SnapshotWorkers == 0 {
		cfg.Storage.SnapshotWorkers = 2
	}

	if cfg.Exchange.ReadTimeout == 0 {
		cfg.Exchange.ReadTimeout = 10 * time.Second
	}
	if cfg.Exchange.WriteTimeout == 0 {
		cfg.Exchange.WriteTimeout = 10 * time.Second
	}
	if cfg.Exchange.RequestTimeout == 0 {
		cfg.Exchange.RequestTimeout = 15 * time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9400
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Cluster.ConnectionString == "" {
		return fmt.Errorf("cluster.connection_string is required")
	}
	if _, err := model.ParseConnectionString(c.Cluster.ConnectionString); err != nil {
		return fmt.Errorf("cluster.connection_string: %w", err)
	}
	if c.Cluster.MaxChunkItemCount < 2 {
		return fmt.Errorf("cluster.max_chunk_item_count must be at least 2")
	}
	if c.Cluster.MaxChunkSize < 1 {
		return fmt.Errorf("cluster.max_chunk_size must be positive")
	}
	return nil
}
