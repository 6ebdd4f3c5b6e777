package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Fulfillment  FulfillmentConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CANTEEN_APP_ENV" required:"true"`
	Port         string `envconfig:"CANTEEN_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CANTEEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CANTEEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"CANTEEN_DB_DSN"`

	Host     string `envconfig:"CANTEEN_DB_HOST"`
	Port     int    `envconfig:"CANTEEN_DB_PORT" default:"5432"`
	User     string `envconfig:"CANTEEN_DB_USER"`
	Password string `envconfig:"CANTEEN_DB_PASSWORD"`
	Name     string `envconfig:"CANTEEN_DB_NAME"`
	SSLMode  string `envconfig:"CANTEEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CANTEEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CANTEEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CANTEEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CANTEEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either CANTEEN_DB_DSN or CANTEEN_DB_HOST/USER/NAME must be set")
	}
	d.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CANTEEN_REDIS_URL"`
	Address      string        `envconfig:"CANTEEN_REDIS_ADDR"`
	Password     string        `envconfig:"CANTEEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"CANTEEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CANTEEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CANTEEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CANTEEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CANTEEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CANTEEN_REDIS_WRITE_TIMEOUT" default:"5s"`
	MenuCacheTTL time.Duration `envconfig:"CANTEEN_MENU_CACHE_TTL" default:"5m"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CANTEEN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CANTEEN_JWT_ISSUER" default:"canteen-backend"`
	ExpirationMinutes int    `envconfig:"CANTEEN_JWT_EXPIRATION_MINUTES" default:"720"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FulfillmentConfig struct {
	// TokenTTL bounds how long a minted order token stays redeemable.
	TokenTTL time.Duration `envconfig:"CANTEEN_TOKEN_TTL" default:"60m"`
	// CodeAttempts bounds collision retries before the timestamp fallback.
	CodeAttempts int `envconfig:"CANTEEN_TOKEN_CODE_ATTEMPTS" default:"100"`
	// DeliveryRetries bounds optimistic-lock retries on concurrent deliveries.
	DeliveryRetries int `envconfig:"CANTEEN_DELIVERY_RETRIES" default:"3"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CANTEEN_CRON_INTERVAL" default:"10m"`
	LockTTL  time.Duration `envconfig:"CANTEEN_CRON_LOCK_TTL" default:"15m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CANTEEN_AUTO_MIGRATE" default:"false"`
}
