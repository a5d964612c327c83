package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

const (
	MQBackendNone     = "none"
	MQBackendMemory   = "memory"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"
	MQBackendNATS     = "nats"
)

type Config struct {
	Environment  string `env:"ENV" envDefault:"production"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"usermgmt"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	Database DatabaseConfig
	Auth     AuthConfig
	MQ       MQConfig
	Tracing  TracingConfig
}

type DatabaseConfig struct {
	Host           string `env:"DB_HOST" envDefault:"localhost"`
	Port           int    `env:"DB_PORT" envDefault:"5432"`
	User           string `env:"DB_USER" envDefault:"usermgmt"`
	Password       string `env:"DB_PASSWORD" envDefault:"password"`
	DBName         string `env:"DB_NAME" envDefault:"usermgmt"`
	UseSSL         bool   `env:"DB_USE_SSL" envDefault:"false"`
	AutoMigrate    bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"internal/db/migrations"`
}

type AuthConfig struct {
	JWTSecret    string        `env:"JWT_SECRET,required"`
	TokenTTL     time.Duration `env:"JWT_TTL" envDefault:"168h"`
	BcryptCost   int           `env:"BCRYPT_COST" envDefault:"10"`
	CookieName   string        `env:"AUTH_COOKIE_NAME" envDefault:"token"`
	CookieSecure *bool         `env:"AUTH_COOKIE_SECURE"`
}

type MQConfig struct {
	Backend  string `env:"MQ_BACKEND" envDefault:"none"`
	Channel  string `env:"MQ_CHANNEL" envDefault:"account-events"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
	NATS     NATSConfig
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH" envDefault:"10"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

type NATSConfig struct {
	URL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	QueueGroup string `env:"NATS_QUEUE_GROUP" envDefault:"usermgmt"`
}

type TracingConfig struct {
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig reads the configuration from the environment. A .env file is
// loaded first when ENV=dev.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("config: JWT_TTL must be positive")
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return Config{}, fmt.Errorf("config: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.MQ.Backend {
	case MQBackendNone, MQBackendMemory, MQBackendRabbitMQ, MQBackendPubSub, MQBackendNATS:
	default:
		return Config{}, fmt.Errorf("config: unknown MQ_BACKEND %q", cfg.MQ.Backend)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in a development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "dev" || c.Environment == "development"
}

// SecureCookies reports whether the session cookie carries the Secure flag.
func (c Config) SecureCookies() bool {
	if c.Auth.CookieSecure != nil {
		return *c.Auth.CookieSecure
	}
	return !c.IsDevelopment()
}
