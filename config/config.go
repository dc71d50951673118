package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
// Resolution order is defaults -> YAML file -> ECOSCOPE_* environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Overpass OverpassConfig `yaml:"overpass"`
	Logging  LoggingConfig  `yaml:"logging"`
	Upload   UploadConfig   `yaml:"upload"`
}

type ServiceConfig struct {
	Name       string `yaml:"name"`
	HTTPPort   int    `yaml:"http_port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type ModelConfig struct {
	Backend         string `yaml:"backend"` // native or onnx
	CheckpointPath  string `yaml:"checkpoint_path"`
	ONNXPath        string `yaml:"onnx_path"`
	ONNXLibraryPath string `yaml:"onnx_library_path"`
	InChannels      int    `yaml:"in_channels"`
	BaseChannels    int    `yaml:"base_channels"`
	ImageSize       int    `yaml:"image_size"`
	Seed            uint64 `yaml:"seed"`
	Workers         int    `yaml:"workers"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // sqlite3 or postgres
	DSN         string `yaml:"dsn"`
	SaveHistory bool   `yaml:"save_history"`
}

type AnalysisConfig struct {
	// GroundSampleDistanceM is the source pixel size in metres; 0 disables km² reporting.
	GroundSampleDistanceM float64 `yaml:"ground_sample_distance_m"`
	Visualize             bool    `yaml:"visualize"`
}

type OverpassConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RadiusM        int    `yaml:"radius_m"`
}

type LoggingConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Stdout bool   `yaml:"stdout"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:       "ecoscope",
			HTTPPort:   8080,
			CORSOrigin: "*",
		},
		Model: ModelConfig{
			Backend:        "native",
			CheckpointPath: "checkpoints/unet.safetensors",
			ONNXPath:       "checkpoints/unet.onnx",
			InChannels:     3,
			BaseChannels:   64,
			ImageSize:      256,
			Seed:           42,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "ecoscope.db",
			SaveHistory: true,
		},
		Overpass: OverpassConfig{
			Endpoint:       "https://overpass-api.de/api/interpreter",
			TimeoutSeconds: 20,
			RadiusM:        5000,
		},
		Logging: LoggingConfig{
			File:   "ecoscope.log",
			Level:  "info",
			Format: "text",
			Stdout: true,
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
	}
}

// LoadConfig resolves configuration from path. A missing file leaves the defaults in place.
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Model.InChannels != 3 && c.Model.InChannels != 6 {
		return fmt.Errorf("model.in_channels must be 3 or 6, got %d", c.Model.InChannels)
	}
	if c.Model.BaseChannels < 1 {
		return fmt.Errorf("model.base_channels must be positive, got %d", c.Model.BaseChannels)
	}
	if c.Model.ImageSize < 4 || c.Model.ImageSize%4 != 0 {
		return fmt.Errorf("model.image_size must be a positive multiple of 4, got %d", c.Model.ImageSize)
	}
	switch c.Model.Backend {
	case "native", "onnx":
	default:
		return fmt.Errorf("unknown model.backend %q", c.Model.Backend)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Analysis.GroundSampleDistanceM < 0 {
		return fmt.Errorf("analysis.ground_sample_distance_m must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Service.HTTPPort = envInt("ECOSCOPE_HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.CORSOrigin = envOrDefault("ECOSCOPE_CORS_ORIGIN", cfg.Service.CORSOrigin)

	cfg.Model.Backend = strings.ToLower(envOrDefault("ECOSCOPE_MODEL_BACKEND", cfg.Model.Backend))
	cfg.Model.CheckpointPath = envOrDefault("ECOSCOPE_CHECKPOINT", cfg.Model.CheckpointPath)
	cfg.Model.ONNXPath = envOrDefault("ECOSCOPE_ONNX_MODEL", cfg.Model.ONNXPath)
	cfg.Model.ONNXLibraryPath = envOrDefault("ONNXRUNTIME_LIB", cfg.Model.ONNXLibraryPath)
	cfg.Model.InChannels = envInt("ECOSCOPE_IN_CHANNELS", cfg.Model.InChannels)
	cfg.Model.Workers = envInt("ECOSCOPE_WORKERS", cfg.Model.Workers)

	cfg.Database.Driver = envOrDefault("ECOSCOPE_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envOrDefault("ECOSCOPE_DB_DSN", cfg.Database.DSN)
	cfg.Database.SaveHistory = envBool("ECOSCOPE_SAVE_HISTORY", cfg.Database.SaveHistory)

	cfg.Analysis.GroundSampleDistanceM = envFloat("ECOSCOPE_GSD_M", cfg.Analysis.GroundSampleDistanceM)

	cfg.Overpass.Enabled = envBool("ECOSCOPE_OVERPASS_ENABLED", cfg.Overpass.Enabled)
	cfg.Overpass.Endpoint = envOrDefault("ECOSCOPE_OVERPASS_ENDPOINT", cfg.Overpass.Endpoint)

	cfg.Logging.Level = envOrDefault("ECOSCOPE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = envOrDefault("ECOSCOPE_LOG_FILE", cfg.Logging.File)
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
