package types

import (
	"time"
)

const (
	AdapterTypeMemory = "memory"
	AdapterTypeRemote = "remote"
	AdapterTypeTiered = "tiered"
)

type ServiceConfig struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Namespace  string            `yaml:"namespace" json:"namespace" validate:"required"`
	Adapter    string            `yaml:"adapter" json:"adapter" validate:"required"`
	DefaultTTL time.Duration     `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Serializer *SerializerConfig `yaml:"serializer" json:"serializer"`
	Memory     *MemoryConfig     `yaml:"memory" json:"memory"`
	Remote     *RemoteConfig     `yaml:"remote" json:"remote"`
	Breaker    *BreakerConfig    `yaml:"breaker" json:"breaker"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Reporter   *ReporterConfig   `yaml:"reporter" json:"reporter"`
	Health     *HealthConfig     `yaml:"health" json:"health"`
	Server     *ServerConfig     `yaml:"server" json:"server"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type SerializerConfig struct {
	Type        string             `yaml:"type" json:"type"`
	Config      interface{}        `yaml:"config" json:"config"`
	Compression *CompressionConfig `yaml:"compression" json:"compression"`
}

type CompressionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	MinSize int  `yaml:"min_size" json:"min_size" validate:"min=0"`
	Quality int  `yaml:"quality" json:"quality" validate:"min=0,max=11"`
}

type MemoryConfig struct {
	MaxEntries    int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	MaxBytes      int64         `yaml:"max_bytes" json:"max_bytes" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"min=0"`
}

type RemoteConfig struct {
	Host               string         `yaml:"host" json:"host"`
	Port               int            `yaml:"port" json:"port" validate:"min=1,max=65535"`
	Password           string         `yaml:"password" json:"password"`
	DB                 int            `yaml:"db" json:"db" validate:"min=0"`
	KeyPrefix          string         `yaml:"key_prefix" json:"key_prefix"`
	PoolSize           int            `yaml:"pool_size" json:"pool_size" validate:"min=1"`
	MinIdleConnections int            `yaml:"min_idle_connections" json:"min_idle_connections" validate:"min=0"`
	PoolTimeout        time.Duration  `yaml:"pool_timeout" json:"pool_timeout" validate:"min=0"`
	DialTimeout        time.Duration  `yaml:"dial_timeout" json:"dial_timeout" validate:"min=0"`
	CallTimeout        time.Duration  `yaml:"call_timeout" json:"call_timeout" validate:"min=0"`
	Backoff            *BackoffConfig `yaml:"backoff" json:"backoff"`
}

type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" json:"initial" validate:"min=0"`
	Max     time.Duration `yaml:"max" json:"max" validate:"min=0"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=1"`
	RollingWindow    time.Duration `yaml:"rolling_window" json:"rolling_window" validate:"min=0"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout" validate:"min=0"`
	HalfOpenProbes   int           `yaml:"half_open_probes" json:"half_open_probes" validate:"min=1"`
}

type MetricsConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	Type           string            `yaml:"type" json:"type"`
	Config         interface{}       `yaml:"config" json:"config"`
	Labels         map[string]string `yaml:"labels" json:"labels"`
	SnapshotWindow time.Duration     `yaml:"snapshot_window" json:"snapshot_window" validate:"min=0"`
}

type ReporterConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Schedule string `yaml:"schedule" json:"schedule"`
	Sink     string `yaml:"sink" json:"sink"`
	URL      string `yaml:"url" json:"url"`
}

type HealthConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout" validate:"min=0"`
}

type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
}
