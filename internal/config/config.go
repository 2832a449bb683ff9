// Package config loads server configuration from YAML with environment
// overrides for secrets and deploy-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Minio struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"accessKey"`
		SecretKey string `yaml:"secretKey"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Queue struct {
		Stream      string `yaml:"stream"`
		Group       string `yaml:"group"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"queue"`

	Auth struct {
		TokenSecret string `yaml:"tokenSecret"`
		Issuer      string `yaml:"issuer"`
		Audience    string `yaml:"audience"`
	} `yaml:"auth"`

	Providers struct {
		OpenAIAPIKey      string `yaml:"openaiAPIKey"`
		OpenAIBaseURL     string `yaml:"openaiBaseURL"`
		OpenRouterAPIKey  string `yaml:"openrouterAPIKey"`
		OpenRouterBaseURL string `yaml:"openrouterBaseURL"`
		AppURL            string `yaml:"appURL"`
		AppName           string `yaml:"appName"`
		OllamaBaseURL     string `yaml:"ollamaBaseURL"`
		EmbeddingModel    string `yaml:"embeddingModel"`
	} `yaml:"providers"`

	RateLimit struct {
		Limit         int `yaml:"limit"`
		WindowSeconds int `yaml:"windowSeconds"`
		// TrustedProxies lists CIDRs/IPs whose forwarded headers are
		// honored when resolving the client IP for limiter keys.
		TrustedProxies []string `yaml:"trustedProxies"`
	} `yaml:"rateLimit"`

	Upload struct {
		MaxSizeMB int `yaml:"maxSizeMB"`
	} `yaml:"upload"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = v
	}
	if v := os.Getenv("AUTH_TOKEN_SECRET"); v != "" {
		cfg.Auth.TokenSecret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Providers.OpenRouterAPIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Providers.OllamaBaseURL = v
	}
	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "docuchat:documents"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "processors"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}
	if cfg.Minio.Bucket == "" {
		cfg.Minio.Bucket = "docuchat-uploads"
	}
	if cfg.RateLimit.Limit <= 0 {
		cfg.RateLimit.Limit = 60
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Upload.MaxSizeMB <= 0 {
		cfg.Upload.MaxSizeMB = 20
	}
	if cfg.Providers.EmbeddingModel == "" {
		cfg.Providers.EmbeddingModel = "nomic-embed-text"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("config: redis.addr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.Auth.TokenSecret == "" {
		return errors.New("config: auth.tokenSecret is required (set in config.yaml or AUTH_TOKEN_SECRET)")
	}
	if cfg.Minio.Endpoint == "" {
		return errors.New("config: minio.endpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	return nil
}

// RateLimitWindow returns the configured window as a duration.
func (c FileConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// MaxUploadBytes returns the upload cap in bytes.
func (c FileConfig) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}
