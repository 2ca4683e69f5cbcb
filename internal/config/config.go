package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Uploads     UploadsConfig     `yaml:"uploads"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Description DescriptionConfig `yaml:"description"`
	Worker      WorkerConfig      `yaml:"worker"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	SessionName   string `yaml:"session_name"`
	SecureCookie  bool   `yaml:"secure_cookie"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether an archive endpoint is configured.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type ClassifierConfig struct {
	// Backend selects the implementation: "process" or "onnx".
	Backend       string        `yaml:"backend"`
	Command       string        `yaml:"command"`
	Args          []string      `yaml:"args"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	StrictOutput  bool          `yaml:"strict_output"`
	FailOnStderr  bool          `yaml:"fail_on_stderr"`
	ModelPath     string        `yaml:"model_path"`
	LabelsPath    string        `yaml:"labels_path"`
	InputSize     int           `yaml:"input_size"`
	InputName     string        `yaml:"input_name"`
	OutputName    string        `yaml:"output_name"`
	NumClasses    int           `yaml:"num_classes"`
}

type DescriptionConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	UserAgent string        `yaml:"user_agent"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded first so that
// secrets can live outside the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Classifier.Backend {
	case "process":
		if c.Classifier.Command == "" {
			return fmt.Errorf("classifier.command is required for the process backend")
		}
	case "onnx":
		if c.Classifier.ModelPath == "" || c.Classifier.LabelsPath == "" {
			return fmt.Errorf("classifier.model_path and classifier.labels_path are required for the onnx backend")
		}
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend)
	}
	if len(c.Server.SessionSecret) < 16 {
		return fmt.Errorf("server.session_secret must be at least 16 bytes")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.SessionName == "" {
		cfg.Server.SessionName = "reserve_session"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" && cfg.MinIO.Endpoint != "" {
		cfg.MinIO.Bucket = "sightings"
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = "uploads"
	}
	if cfg.Uploads.MaxBytes == 0 {
		cfg.Uploads.MaxBytes = 5_000_000
	}
	if cfg.Classifier.Backend == "" {
		cfg.Classifier.Backend = "process"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
	if cfg.Classifier.MaxConcurrent == 0 {
		cfg.Classifier.MaxConcurrent = 4
	}
	if cfg.Classifier.InputSize == 0 {
		cfg.Classifier.InputSize = 224
	}
	if cfg.Classifier.InputName == "" {
		cfg.Classifier.InputName = "pixel_values"
	}
	if cfg.Classifier.OutputName == "" {
		cfg.Classifier.OutputName = "logits"
	}
	if cfg.Classifier.NumClasses == 0 {
		cfg.Classifier.NumClasses = 1000
	}
	if cfg.Description.BaseURL == "" {
		cfg.Description.BaseURL = "https://en.wikipedia.org/api/rest_v1"
	}
	if cfg.Description.Timeout == 0 {
		cfg.Description.Timeout = 10 * time.Second
	}
	if cfg.Description.RateLimit == 0 {
		cfg.Description.RateLimit = 5
	}
	if cfg.Description.CacheTTL == 0 {
		cfg.Description.CacheTTL = 6 * time.Hour
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESERVE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RESERVE_SESSION_SECRET"); v != "" {
		cfg.Server.SessionSecret = v
	}
	if v := os.Getenv("RESERVE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RESERVE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RESERVE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RESERVE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RESERVE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RESERVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RESERVE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("RESERVE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("RESERVE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("RESERVE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("RESERVE_UPLOADS_DIR"); v != "" {
		cfg.Uploads.Dir = v
	}
	if v := os.Getenv("RESERVE_UPLOADS_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Uploads.MaxBytes = n
		}
	}
	if v := os.Getenv("RESERVE_CLASSIFIER_BACKEND"); v != "" {
		cfg.Classifier.Backend = v
	}
	if v := os.Getenv("RESERVE_CLASSIFIER_COMMAND"); v != "" {
		cfg.Classifier.Command = v
	}
	if v := os.Getenv("RESERVE_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Classifier.Timeout = d
		}
	}
	if v := os.Getenv("RESERVE_CLASSIFIER_MODEL_PATH"); v != "" {
		cfg.Classifier.ModelPath = v
	}
	if v := os.Getenv("RESERVE_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("RESERVE_DESCRIPTION_BASE_URL"); v != "" {
		cfg.Description.BaseURL = v
	}
}
