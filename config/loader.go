package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads, merges over defaults, and validates a service config.
// Any failure here is fatal: the service refuses to construct on a bad config.
func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	if config.Namespace == "" {
		return types.ErrNamespaceEmpty
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Adapter:    types.AdapterTypeMemory,
		DefaultTTL: 5 * time.Minute,
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Serializer: &types.SerializerConfig{
			Type: "json",
			Compression: &types.CompressionConfig{
				Enabled: false,
				MinSize: 1024,
				Quality: 6,
			},
		},
		Memory: &types.MemoryConfig{
			MaxEntries:    10000,
			MaxBytes:      0,
			SweepInterval: 5 * time.Minute,
		},
		Remote: &types.RemoteConfig{
			Host:               "localhost",
			Port:               6379,
			Password:           "",
			DB:                 0,
			KeyPrefix:          "sai-cache",
			PoolSize:           10,
			MinIdleConnections: 2,
			PoolTimeout:        time.Second,
			DialTimeout:        5 * time.Second,
			CallTimeout:        250 * time.Millisecond,
			Backoff: &types.BackoffConfig{
				Initial: 100 * time.Millisecond,
				Max:     30 * time.Second,
			},
		},
		Breaker: &types.BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			RollingWindow:    30 * time.Second,
			ResetTimeout:     10 * time.Second,
			HalfOpenProbes:   1,
		},
		Metrics: &types.MetricsConfig{
			Enabled:        true,
			Type:           "memory",
			SnapshotWindow: 5 * time.Minute,
		},
		Reporter: &types.ReporterConfig{
			Enabled:  false,
			Schedule: "@every 30s",
			Sink:     "log",
		},
		Health: &types.HealthConfig{
			Enabled:      true,
			CheckTimeout: 2 * time.Second,
		},
		Server: &types.ServerConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         9091,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}
