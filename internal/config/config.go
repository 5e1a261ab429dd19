package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

const defaultConfigDir = "internal/config"

// Detection holds the circle transform tunables and the debounce windows.
type Detection struct {
	DP        float64 `yaml:"dp" env:"DETECTION_DP"`
	MinDist   int     `yaml:"min_dist" env:"DETECTION_MIN_DIST"`
	Param1    int     `yaml:"param1" env:"DETECTION_PARAM1"`
	Param2    int     `yaml:"param2" env:"DETECTION_PARAM2"`
	MinRadius int     `yaml:"min_radius" env:"DETECTION_MIN_RADIUS"`
	MaxRadius int     `yaml:"max_radius" env:"DETECTION_MAX_RADIUS"`
	// MinDelay and SaveDelay are in seconds.
	MinDelay  float64 `yaml:"min_delay" env:"DETECTION_MIN_DELAY"`
	SaveDelay float64 `yaml:"save_delay" env:"DETECTION_SAVE_DELAY"`
	Timezone  string  `yaml:"timezone" env:"DETECTION_TIMEZONE"`
}

// DefaultDetection returns the tunables the detector was calibrated with:
// min_radius 70 matches a 0.15m circle at 1.3m from the camera.
func DefaultDetection() Detection {
	return Detection{
		DP:        0.5,
		MinDist:   200,
		Param1:    100,
		Param2:    150,
		MinRadius: 70,
		MaxRadius: 10000,
		MinDelay:  0,
		SaveDelay: 2,
		Timezone:  "Europe/Moscow",
	}
}

// Validate reports the first out-of-range field wrapped in ErrInvalidConfig.
func (d Detection) Validate() error {
	switch {
	case !finite(d.DP) || d.DP <= 0:
		return fmt.Errorf("%w: dp must be positive, got %v", ErrInvalidConfig, d.DP)
	case d.MinDist <= 0:
		return fmt.Errorf("%w: min_dist must be positive, got %d", ErrInvalidConfig, d.MinDist)
	case d.Param1 <= 0:
		return fmt.Errorf("%w: param1 must be positive, got %d", ErrInvalidConfig, d.Param1)
	case d.Param2 <= 0:
		return fmt.Errorf("%w: param2 must be positive, got %d", ErrInvalidConfig, d.Param2)
	case d.MinRadius <= 0:
		return fmt.Errorf("%w: min_radius must be positive, got %d", ErrInvalidConfig, d.MinRadius)
	case d.MaxRadius <= 0:
		return fmt.Errorf("%w: max_radius must be positive, got %d", ErrInvalidConfig, d.MaxRadius)
	case d.MinRadius > d.MaxRadius:
		return fmt.Errorf("%w: min_radius %d exceeds max_radius %d", ErrInvalidConfig, d.MinRadius, d.MaxRadius)
	case !finite(d.MinDelay) || d.MinDelay < 0:
		return fmt.Errorf("%w: min_delay must not be negative, got %v", ErrInvalidConfig, d.MinDelay)
	case !finite(d.SaveDelay) || d.SaveDelay < 0:
		return fmt.Errorf("%w: save_delay must not be negative, got %v", ErrInvalidConfig, d.SaveDelay)
	}
	if _, err := d.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, d.Timezone, err)
	}
	return nil
}

// MinDelayDuration returns MinDelay as a time.Duration.
func (d Detection) MinDelayDuration() time.Duration {
	return seconds(d.MinDelay)
}

// SaveDelayDuration returns SaveDelay as a time.Duration.
func (d Detection) SaveDelayDuration() time.Duration {
	return seconds(d.SaveDelay)
}

// Location resolves Timezone; an empty value means UTC.
func (d Detection) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Config структура конфига
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr" env:"HTTP_ADDR"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`

	Detection Detection `yaml:"detection"`

	Pipeline struct {
		Workers int  `yaml:"workers" env:"PIPELINE_WORKERS"`
		Mirror  bool `yaml:"mirror" env:"PIPELINE_MIRROR"`
	} `yaml:"pipeline"`

	Storage struct {
		SaveDir   string `yaml:"save_dir" env:"STORAGE_SAVE_DIR"`
		QueueSize int    `yaml:"queue_size" env:"STORAGE_QUEUE_SIZE"`
		Workers   int    `yaml:"workers" env:"STORAGE_WORKERS"`
	} `yaml:"storage"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic   string   `yaml:"command_topic" env:"COMMAND_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
		DetectionTopic string   `yaml:"detection_topic" env:"DETECTION_TOPIC"`
	} `yaml:"kafka"`

	NATS struct {
		URL           string `yaml:"url" env:"NATS_URL"`
		SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX"`
	} `yaml:"nats"`
}

// Default returns a configuration with every optional backend disabled.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = ":8000"
	cfg.Log.Level = "info"
	cfg.Detection = DefaultDetection()
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.Mirror = true
	cfg.Storage.SaveDir = "saved_frames"
	cfg.Storage.QueueSize = 32
	cfg.Storage.Workers = 2
	cfg.Minio.Bucket = "movements"
	cfg.NATS.SubjectPrefix = "detections"
	return cfg
}

// LoadConfig reads the YAML file, applies environment overrides and
// validates the result. A bare file name is looked up in internal/config.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()

	if filename == "" {
		filename = "local.yaml"
	}
	path := filename
	if filepath.Base(filename) == filename {
		path = filepath.Join(defaultConfigDir, filename)
	}

	// .env is optional
	_ = godotenv.Load()

	// Читаем YAML
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Парсим YAML в структуру
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Парсим переменные окружения с приоритетом
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the detection block and the worker counts.
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("%w: pipeline.workers must be positive, got %d", ErrInvalidConfig, c.Pipeline.Workers)
	}
	if c.Storage.Workers <= 0 {
		return fmt.Errorf("%w: storage.workers must be positive, got %d", ErrInvalidConfig, c.Storage.Workers)
	}
	if c.Storage.QueueSize <= 0 {
		return fmt.Errorf("%w: storage.queue_size must be positive, got %d", ErrInvalidConfig, c.Storage.QueueSize)
	}
	return nil
}
