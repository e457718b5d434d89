package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Crops     CropsConfig     `mapstructure:"crops"`
	Inference InferenceConfig `mapstructure:"inference"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	BodyLimitMB  int `mapstructure:"body_limit_mb"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DetectorConfig points at the model server that runs crop detection.
type DetectorConfig struct {
	URL            string `mapstructure:"url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// SettleSeconds delays triangulation after the last upload so that a
	// burst of images from one drive lands in a single run.
	SettleSeconds int `mapstructure:"settle_seconds"`
}

// CropsConfig selects the reference height table.
type CropsConfig struct {
	TableVersion   string             `mapstructure:"table_version"`
	SensorHeightMM float64            `mapstructure:"sensor_height_mm"`
	Heights        map[string]float64 `mapstructure:"heights"`
}

type InferenceConfig struct {
	MaxImagesPerRequest int    `mapstructure:"max_images_per_request"`
	ImageRoot           string `mapstructure:"image_root"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.body_limit_mb", 200)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "street2sat")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "street2sat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("detector.url", "http://localhost:8080")
	v.SetDefault("detector.model", "street2sat")
	v.SetDefault("detector.timeout_seconds", 60)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "triangulation-queue")
	v.SetDefault("temporal.settle_seconds", 30)
	v.SetDefault("crops.table_version", "2021-06")
	v.SetDefault("crops.sensor_height_mm", 4.55)
	v.SetDefault("crops.heights", map[string]float64{})
	v.SetDefault("inference.max_images_per_request", 20)
	v.SetDefault("inference.image_root", "")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: STREET2SAT_DATABASE_HOST → database.host
	v.SetEnvPrefix("STREET2SAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Detector.URL == "" {
		errs = append(errs, "detector.url is required")
	}
	if c.Detector.TimeoutSeconds <= 0 {
		errs = append(errs, "detector.timeout_seconds must be positive")
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required")
	}
	if c.Temporal.SettleSeconds < 0 {
		errs = append(errs, "temporal.settle_seconds must not be negative")
	}
	if c.Crops.SensorHeightMM <= 0 {
		errs = append(errs, fmt.Sprintf("crops.sensor_height_mm must be positive, got %g", c.Crops.SensorHeightMM))
	}
	for name, h := range c.Crops.Heights {
		if h < 0 {
			errs = append(errs, fmt.Sprintf("crops.heights.%s must not be negative", name))
		}
	}
	if c.Inference.MaxImagesPerRequest <= 0 {
		errs = append(errs, "inference.max_images_per_request must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
