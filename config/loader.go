package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/vinyl-tracker/types"
)

const readTimeout = 30 * time.Second

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads, expands ${VAR} references, decodes over Defaults and
// validates the config at configPath.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigNotFound, "file: %s", configPath)
	}

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

func (l *Loader) Load(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return config, nil
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

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "vinyl-tracker",
		Version: "dev",
		Server: &types.ServerConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Compression: &types.CompressionConfig{
				Enabled:   true,
				Algorithm: "br",
				Level:     4,
				Threshold: 1024,
			},
		},
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Cache: &types.CacheConfig{
			MaxEntries:      100,
			TTL:             30 * time.Minute,
			SweepInterval:   5 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: &types.DatabaseConfig{
			Type: "memory",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Type:      "memory",
			Namespace: "vinyl_tracker",
		},
		Health: &types.HealthConfig{
			CheckTimeout: 5 * time.Second,
		},
	}
}
