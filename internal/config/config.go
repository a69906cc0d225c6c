package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
	} `yaml:"server"`

	Upload struct {
		MaxSizeMB    int      `yaml:"maxSizeMB"`
		AllowedTypes []string `yaml:"allowedTypes"`
		TempDir      string   `yaml:"tempDir"`
	} `yaml:"upload"`

	Simulation struct {
		UploadDelay   time.Duration `yaml:"uploadDelay"`
		AnalysisDelay time.Duration `yaml:"analysisDelay"`
	} `yaml:"simulation"`

	Session struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Database struct {
		Driver   string `yaml:"driver"` // memory | sqlite | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"` // sqlite only
		SeedDemo bool   `yaml:"seedDemo"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	// tenant -> api key; empty disables auth
	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Upload.MaxSizeMB = domain.DefaultMaxSizeMB
	c.Upload.AllowedTypes = append([]string(nil), domain.DefaultAllowedTypes...)
	c.Upload.TempDir = os.TempDir()
	c.Simulation.UploadDelay = 1500 * time.Millisecond
	c.Simulation.AnalysisDelay = 3 * time.Second
	c.Session.TTL = 30 * time.Minute
	c.Database.Driver = "memory"
	c.Database.Path = "data/voiceguard.db"
	c.Minio.Region = "us-east-1"
	c.Minio.BucketName = "voiceguard-audio"
	c.RateLimit.Capacity = 60
	c.RateLimit.RefillRate = 1
	c.CORS.AllowedOrigins = []string{"*"}
	return &c
}

// Load baca file config.yaml di atas default. File yang tidak ada = default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Upload.MaxSizeMB <= 0 {
		return fmt.Errorf("config: upload.maxSizeMB must be positive")
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 {
		return fmt.Errorf("config: rateLimit capacity and refillRate must be positive")
	}
	if c.Simulation.UploadDelay < 0 || c.Simulation.AnalysisDelay < 0 {
		return fmt.Errorf("config: simulation delays cannot be negative")
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		return fmt.Errorf("config: minio.endpoint is required when minio is enabled")
	}
	return nil
}

// Validator builds the upload validator from the upload section.
func (c *Config) Validator() domain.Validator {
	return domain.NewValidator(c.Upload.MaxSizeMB, c.Upload.AllowedTypes)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
	)
}
