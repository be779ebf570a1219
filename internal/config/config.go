package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NetConfig controls the multiplexed TCP/UDP service.
type NetConfig struct {
	// OutputBufferSize bounds the size of a single write chunk handed to the
	// OS socket. Larger writes are split across multiple chunks.
	OutputBufferSize int `yaml:"output_buffer_size"`
	// MaxPackagesPerWrite bounds how many queued write packages are drained
	// from a channel's output queue per write cycle.
	MaxPackagesPerWrite int `yaml:"max_packages_per_write"`
	// ConnectionTimeout is how long an accepted TCP channel may go without
	// an attached session before it is destroyed.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// InputBufferSize sizes the read buffer used to drain a channel.
	InputBufferSize int `yaml:"input_buffer_size"`
}

// QueryConfig controls the query language parser and evaluator.
type QueryConfig struct {
	DateFormat       string `yaml:"date_format"`
	DefaultLimit     int    `yaml:"default_limit"`
	MaxJoinResources int    `yaml:"max_join_resources"`
}

// ClickHouseConfig describes a connection to a ClickHouse server acting as
// a query data source.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ProbeConfig describes the NATS endpoint used by the packet probe.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig describes the listen addresses of the query gateway.
type APIConfig struct {
	HTTPListenAddr string `yaml:"http_listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// EtcdConfig describes the etcd cluster backing distributed session locks.
type EtcdConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Net        NetConfig        `yaml:"net"`
	Query      QueryConfig      `yaml:"query"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Probe      ProbeConfig      `yaml:"probe"`
	API        APIConfig        `yaml:"api"`
	Etcd       EtcdConfig       `yaml:"etcd"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the values a fresh install runs
// with when configs/config.yaml omits a section.
func Default() *Config {
	return &Config{
		Net: NetConfig{
			OutputBufferSize:    4096,
			MaxPackagesPerWrite: 50,
			ConnectionTimeout:   30 * time.Second,
			InputBufferSize:     8192,
		},
		Query: QueryConfig{
			DateFormat:       time.RFC3339,
			DefaultLimit:     0,
			MaxJoinResources: 8,
		},
		API: APIConfig{
			HTTPListenAddr: ":8080",
			GRPCListenAddr: ":9090",
		},
	}
}
