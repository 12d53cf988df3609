package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/buddy-work/internal/orchestrator/domain"
	"github.com/cuongbtq/buddy-work/shared/retry"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment overrides
const (
	EnvPort    = "PORT"
	EnvAuthKey = "BUDDY_AUTH_KEY"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	RecordStore  RecordStoreConfig  `yaml:"record_store"`
	Prediction   PredictionConfig   `yaml:"prediction"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Events       EventsConfig       `yaml:"events"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimitRPS limits assign requests per client IP; 0 disables it
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig holds the shared caller secret
type AuthConfig struct {
	SharedKey string `yaml:"shared_key"`
}

// RecordStoreConfig holds the external table store settings
type RecordStoreConfig struct {
	BaseURL        string         `yaml:"base_url"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	CreateShape    string         `yaml:"create_shape"`
	UpdateRetry    retry.Policy   `yaml:"update_retry"`
	Columns        domain.Columns `yaml:"columns"`
}

// PredictionConfig holds the work execution service settings
type PredictionConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Timeout is a hard ceiling over one invocation including retries
	Timeout time.Duration `yaml:"timeout"`
	Retry   retry.Policy  `yaml:"retry"`
}

// OrchestratorConfig holds background job settings
type OrchestratorConfig struct {
	MaxInFlight  int64         `yaml:"max_in_flight"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// EventsConfig holds the optional lifecycle event publisher
type EventsConfig struct {
	Enabled  bool           `yaml:"enabled"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used for any key the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitBurst:  10,
			AllowedOrigins:  []string{"*"},
		},
		RecordStore: RecordStoreConfig{
			BaseURL:        "https://api.airtable.com",
			RequestTimeout: 30 * time.Second,
			CreateShape:    "batch",
			UpdateRetry:    retry.Exponential(3, time.Second),
			Columns:        domain.DefaultColumns(),
		},
		Prediction: PredictionConfig{
			BaseURL: "https://ai.linkbricks.com",
			Timeout: 60 * time.Second,
			Retry:   retry.Fixed(3, 2*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			DrainTimeout: 90 * time.Second,
		},
		Events: EventsConfig{
			RabbitMQ: RabbitMQConfig{
				Host:  "localhost",
				Port:  5672,
				User:  "guest",
				VHost: "/",
				Exchange: ExchangeConfig{
					Name:    "buddy.events",
					Type:    "topic",
					Durable: true,
				},
				Connection: ConnectionConfig{
					RetryAttempts:     5,
					RetryInterval:     2 * time.Second,
					Heartbeat:         10 * time.Second,
					ConnectionTimeout: 5 * time.Second,
				},
				Publish: PublishConfig{
					RetryAttempts:     3,
					RetryInterval:     100 * time.Millisecond,
					BackoffMultiplier: 2,
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "buddy-work-service",
			Version:     "1.0.0",
			Environment: "development",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults.
// An empty path yields the defaults alone. Environment overrides are applied last.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	config.RecordStore.Columns = config.RecordStore.Columns.WithDefaults()

	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvPort, v)
		}
		c.Server.Port = port
	}

	if v := os.Getenv(EnvAuthKey); v != "" {
		c.Auth.SharedKey = v
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.RateLimitRPS < 0 {
		return errors.New("server rate_limit_rps must not be negative")
	}

	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return errors.New("server rate_limit_burst must be greater than 0 when rate limiting is enabled")
	}

	if c.Auth.SharedKey == "" {
		return fmt.Errorf("auth shared_key is required (or set %s)", EnvAuthKey)
	}

	if err := validateURL("record_store base_url", c.RecordStore.BaseURL); err != nil {
		return err
	}

	if c.RecordStore.RequestTimeout <= 0 {
		return errors.New("record_store request_timeout must be greater than 0")
	}

	if c.RecordStore.CreateShape != "batch" && c.RecordStore.CreateShape != "single" {
		return fmt.Errorf("invalid record_store create_shape: %q (must be batch or single)", c.RecordStore.CreateShape)
	}

	if err := validatePolicy("record_store update_retry", c.RecordStore.UpdateRetry); err != nil {
		return err
	}

	if err := validateURL("prediction base_url", c.Prediction.BaseURL); err != nil {
		return err
	}

	if c.Prediction.Timeout <= 0 {
		return errors.New("prediction timeout must be greater than 0")
	}

	if err := validatePolicy("prediction retry", c.Prediction.Retry); err != nil {
		return err
	}

	if c.Orchestrator.MaxInFlight < 0 {
		return errors.New("orchestrator max_in_flight must not be negative")
	}

	if c.Orchestrator.DrainTimeout <= 0 {
		return errors.New("orchestrator drain_timeout must be greater than 0")
	}

	if c.Events.Enabled {
		mq := c.Events.RabbitMQ
		if mq.Host == "" {
			return errors.New("rabbitmq host is required")
		}

		if mq.Port < MinPort || mq.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", mq.Port, MinPort, MaxPort)
		}

		if mq.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
	}

	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

func validatePolicy(name string, p retry.Policy) error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%s max_attempts must be at least 1", name)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("%s delays must not be negative", name)
	}
	return nil
}
