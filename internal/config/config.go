package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the monitoring service.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Network struct {
		NumCables       int     `yaml:"num_cables"`
		SensorsPerCable int     `yaml:"sensors_per_cable"`
		AnomalyProb     float64 `yaml:"anomaly_probability"`
	} `yaml:"network"`

	Detector struct {
		WindowSize      int     `yaml:"window_size"`
		ZScoreThreshold float64 `yaml:"z_score_threshold"`
		TrainingSamples int     `yaml:"training_samples"`
	} `yaml:"detector"`

	Monitor struct {
		Interval             time.Duration `yaml:"interval"`
		BufferSize           int           `yaml:"buffer_size"`
		ConsecutiveAnomalies int           `yaml:"consecutive_anomalies"`
		AnomalyRateThreshold float64       `yaml:"anomaly_rate_threshold"`
		SensorTimeout        time.Duration `yaml:"sensor_timeout"`
	} `yaml:"monitor"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Network.NumCables = 3
	cfg.Network.SensorsPerCable = 5
	cfg.Network.AnomalyProb = 0.05
	cfg.Detector.WindowSize = 50
	cfg.Detector.ZScoreThreshold = 2.0
	cfg.Detector.TrainingSamples = 500
	cfg.Monitor.Interval = time.Second
	cfg.Monitor.BufferSize = 1000
	cfg.Monitor.ConsecutiveAnomalies = 3
	cfg.Monitor.AnomalyRateThreshold = 0.2
	cfg.Monitor.SensorTimeout = 5 * time.Minute
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Server.Port = envOrDefault("PORT", cfg.Server.Port)
	cfg.Redis.Addr = envOrDefault("REDIS_ADDR", cfg.Redis.Addr)

	if cfg.Monitor.BufferSize <= 0 {
		return cfg, fmt.Errorf("monitor.buffer_size must be positive, got %d", cfg.Monitor.BufferSize)
	}
	if cfg.Monitor.Interval <= 0 {
		return cfg, fmt.Errorf("monitor.interval must be positive, got %s", cfg.Monitor.Interval)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
