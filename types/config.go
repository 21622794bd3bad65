package types

import (
	"time"
)

type ServiceConfig struct {
	Name     string          `yaml:"name" json:"name" validate:"required"`
	Version  string          `yaml:"version" json:"version" validate:"required"`
	Server   *ServerConfig   `yaml:"server" json:"server" validate:"required"`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger" validate:"required"`
	Cache    *CacheConfig    `yaml:"cache" json:"cache" validate:"required"`
	Database *DatabaseConfig `yaml:"database" json:"database" validate:"required"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics" validate:"required"`
	Health   *HealthConfig   `yaml:"health" json:"health"`
}

type ServerConfig struct {
	Enabled         bool               `yaml:"enabled" json:"enabled"`
	Host            string             `yaml:"host" json:"host"`
	Port            int                `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration      `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration      `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration      `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Compression     *CompressionConfig `yaml:"compression" json:"compression"`
}

type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Algorithm string `yaml:"algorithm" json:"algorithm" validate:"omitempty,oneof=br gzip"`
	Level     int    `yaml:"level" json:"level"`
	Threshold int    `yaml:"threshold" json:"threshold" validate:"min=0"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" validate:"required,oneof=debug info warn warning error fatal"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

// CacheConfig holds the defaults applied to every dataset cache. Datasets
// override any non-zero field by name.
type CacheConfig struct {
	MaxEntries      int                           `yaml:"max_entries" json:"max_entries" validate:"min=1"`
	TTL             time.Duration                 `yaml:"ttl" json:"ttl" validate:"gt=0"`
	SweepInterval   time.Duration                 `yaml:"sweep_interval" json:"sweep_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration                 `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	Datasets        map[string]CacheDatasetConfig `yaml:"datasets" json:"datasets" validate:"dive"`
}

type CacheDatasetConfig struct {
	MaxEntries    int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"min=0"`
}

// ForDataset returns the effective settings for the named dataset.
func (c *CacheConfig) ForDataset(name string) CacheDatasetConfig {
	effective := CacheDatasetConfig{
		MaxEntries:    c.MaxEntries,
		TTL:           c.TTL,
		SweepInterval: c.SweepInterval,
	}

	override, ok := c.Datasets[name]
	if !ok {
		return effective
	}

	if override.MaxEntries > 0 {
		effective.MaxEntries = override.MaxEntries
	}
	if override.TTL > 0 {
		effective.TTL = override.TTL
	}
	if override.SweepInterval > 0 {
		effective.SweepInterval = override.SweepInterval
	}

	return effective
}

type DatabaseConfig struct {
	Type string `yaml:"type" json:"type" validate:"required,oneof=memory clover sqlite"`
	Path string `yaml:"path" json:"path"`
}

type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Type      string            `yaml:"type" json:"type" validate:"required_if=Enabled true,omitempty,oneof=memory prometheus"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
	GoMetrics bool              `yaml:"go_metrics" json:"go_metrics"`
}

type HealthConfig struct {
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}
