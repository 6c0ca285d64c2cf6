package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Savings       SavingsConfig       `mapstructure:"savings"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// SavingsConfig holds cycle processing configuration.
type SavingsConfig struct {
	MaxPaymentRetries   int           `mapstructure:"max_payment_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	CycleJobTimeout     time.Duration `mapstructure:"cycle_job_timeout"`
	LocalLockTTL        time.Duration `mapstructure:"local_lock_ttl"`
	FeePercent          string        `mapstructure:"fee_percent"`
	FeeFixed            string        `mapstructure:"fee_fixed"`
	FeeCap              string        `mapstructure:"fee_cap"`
	RetrySurcharge      string        `mapstructure:"retry_surcharge"`
	GatewayPerGroupRate int           `mapstructure:"gateway_per_group_rate"`
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	StallTimeout       time.Duration `mapstructure:"stall_timeout"`
	MoverInterval      time.Duration `mapstructure:"mover_interval"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	FailedRetention    time.Duration `mapstructure:"failed_retention"`
	Workers            int           `mapstructure:"workers"`
}

// GatewayConfig holds payment gateway configuration.
type GatewayConfig struct {
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	APIKey           string        `mapstructure:"api_key"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

// Load reads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("ESUSU")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/esusu")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields have valid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Savings.MaxPaymentRetries <= 0 {
		errs = append(errs, fmt.Errorf("savings.max_payment_retries must be positive"))
	}
	if c.Savings.LocalLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("savings.local_lock_ttl must be positive"))
	}
	if c.Savings.CycleJobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("savings.cycle_job_timeout must be positive"))
	}
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be positive"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "esusu")
	v.SetDefault("database.password", "esusu")
	v.SetDefault("database.database", "esusu")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.max_reconnect_delay", "10s")

	// Savings defaults
	v.SetDefault("savings.max_payment_retries", 3)
	v.SetDefault("savings.retry_delay", "48h")
	v.SetDefault("savings.cycle_job_timeout", "120s")
	v.SetDefault("savings.local_lock_ttl", "5m")
	v.SetDefault("savings.fee_percent", "0.01")
	v.SetDefault("savings.fee_fixed", "0.30")
	v.SetDefault("savings.fee_cap", "3.50")
	v.SetDefault("savings.retry_surcharge", "2.50")
	v.SetDefault("savings.gateway_per_group_rate", 10)

	// Queue defaults
	v.SetDefault("queue.consumer_group", "cycle-workers")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.block_duration", "1s")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.stall_timeout", "5m")
	v.SetDefault("queue.mover_interval", "1s")
	v.SetDefault("queue.completed_retention", "24h")
	v.SetDefault("queue.failed_retention", "168h")
	v.SetDefault("queue.workers", 4)

	// Gateway defaults
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.webhook_tolerance", "5m")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.breaker_threshold", 10)
	v.SetDefault("gateway.breaker_timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "esusu-1")
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
