package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kubernetes KubernetesConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Security   SecurityConfig
	Engine     EngineConfig
	Logging    LoggingConfig
	Targets    []TargetConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Password  string   `mapstructure:"password"`
	DB        int      `mapstructure:"db"`
	PoolSize  int      `mapstructure:"pool_size"`
}

type KubernetesConfig struct {
	InCluster  bool   `mapstructure:"in_cluster"`
	KubeConfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SecurityConfig gates the ingestion endpoint. Disabling signature
// verification is an escape hatch for staging environments only.
type SecurityConfig struct {
	VerifySignatures  bool     `mapstructure:"verify_signatures"`
	WebhookSecret     string   `mapstructure:"webhook_secret"`
	AllowedEventTypes []string `mapstructure:"allowed_event_types"`
}

// EngineConfig exposes the dispatch loop policy knobs.
type EngineConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	StorageBackoff  time.Duration `mapstructure:"storage_backoff"`
	// ClaimTTL bounds how long a claimed event may sit in a non-terminal
	// state before another replica may reclaim it. Covers crashed replicas
	// whose claims would otherwise be stranded forever.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// TargetConfig is the raw shape of one dispatch target before validation
// and filter compilation.
type TargetConfig struct {
	Name           string         `mapstructure:"name"`
	AcceptedEvents []string       `mapstructure:"accepted_events"`
	Repository     string         `mapstructure:"repository"`
	CELExpression  string         `mapstructure:"cel_expression"`
	Callback       CallbackConfig `mapstructure:"callback"`
	Capacity       CapacityConfig `mapstructure:"capacity"`
}

type CallbackConfig struct {
	Type  string `mapstructure:"type"` // http or kafka
	URL   string `mapstructure:"url"`
	Topic string `mapstructure:"topic"`
}

type CapacityConfig struct {
	ProviderType  string `mapstructure:"provider_type"`
	ResourceName  string `mapstructure:"resource_name"`
	Namespace     string `mapstructure:"namespace"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/certhook/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CERTHOOK")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("kafka.client_id", "certhook-dispatcher")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("security.verify_signatures", true)
	viper.SetDefault("security.allowed_event_types", []string{"pull_request"})
	viper.SetDefault("engine.tick_interval", "5s")
	viper.SetDefault("engine.batch_size", 50)
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.max_attempts", 3)
	viper.SetDefault("engine.dispatch_timeout", "30s")
	viper.SetDefault("engine.storage_backoff", "10s")
	viper.SetDefault("engine.claim_ttl", "5m")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, fmt.Errorf("security config: %w", err)
	}

	return &cfg, nil
}

func (c *SecurityConfig) validate() error {
	if c.VerifySignatures && c.WebhookSecret == "" {
		return fmt.Errorf("webhook_secret is required when verify_signatures is enabled")
	}
	if len(c.AllowedEventTypes) == 0 {
		return fmt.Errorf("allowed_event_types must not be empty")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
