package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide sandbox configuration, immutable after Load.
type Config struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"`

	WorkerImage     string  `yaml:"worker_image"`
	WorkerPort      int     `yaml:"worker_port"`
	MemoryLimit     string  `yaml:"memory_limit"` // e.g. "2g", parsed at the driver boundary
	CPULimit        float64 `yaml:"cpu_limit"`    // cores
	NetworkName     string  `yaml:"network_name"`
	ContainerPrefix string  `yaml:"container_prefix"`

	HealthCheckTimeout  int     `yaml:"health_check_timeout"`  // seconds
	HealthCheckInterval float64 `yaml:"health_check_interval"` // seconds
	ExecutionTimeout    int     `yaml:"execution_timeout"`     // seconds

	DataMountPath string `yaml:"data_mount_path"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:              "127.0.0.1:8080",
		WorkerImage:         "kapsel/worker:latest",
		WorkerPort:          9000,
		MemoryLimit:         "2g",
		CPULimit:            1.0,
		NetworkName:         "kapsel-network",
		ContainerPrefix:     "kapsel-worker",
		HealthCheckTimeout:  30,
		HealthCheckInterval: 1.0,
		ExecutionTimeout:    300,
		DataMountPath:       "/data",
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerImage == "" {
		return fmt.Errorf("worker_image must not be empty")
	}
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		return fmt.Errorf("worker_port out of range: %d", c.WorkerPort)
	}
	if c.CPULimit <= 0 {
		return fmt.Errorf("cpu_limit must be positive: %v", c.CPULimit)
	}
	if c.ContainerPrefix == "" {
		return fmt.Errorf("container_prefix must not be empty")
	}
	if c.HealthCheckTimeout <= 0 || c.HealthCheckInterval <= 0 || c.ExecutionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// HealthTimeout returns health_check_timeout as a duration.
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeout) * time.Second
}

// HealthInterval returns health_check_interval as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthCheckInterval * float64(time.Second))
}

// ExecTimeout returns execution_timeout as a duration.
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeout) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAPSEL_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("KAPSEL_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("KAPSEL_WORKER_IMAGE"); v != "" {
		cfg.WorkerImage = v
	}
	if v := os.Getenv("KAPSEL_WORKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPort = n
		}
	}
	if v := os.Getenv("KAPSEL_MEMORY_LIMIT"); v != "" {
		cfg.MemoryLimit = v
	}
	if v := os.Getenv("KAPSEL_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CPULimit = f
		}
	}
	if v := os.Getenv("KAPSEL_NETWORK_NAME"); v != "" {
		cfg.NetworkName = v
	}
	if v := os.Getenv("KAPSEL_CONTAINER_PREFIX"); v != "" {
		cfg.ContainerPrefix = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAPSEL_HEALTH_CHECK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HealthCheckTimeout = n
		}
	}
	if v := os.Getenv("KAPSEL_HEALTH_CHECK_INTERVAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HealthCheckInterval = f
		}
	}
	if v := os.Getenv("KAPSEL_EXECUTION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecutionTimeout = n
		}
	}
	if v := os.Getenv("KAPSEL_DATA_MOUNT_PATH"); v != "" {
		cfg.DataMountPath = v
	}
}
