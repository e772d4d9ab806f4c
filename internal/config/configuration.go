package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	BrokerNone     = "none"
	BrokerPostgres = "postgres"
	BrokerRedis    = "redis"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT" validate:"min=1,max=65535"`
	// Comma separated browser origins allowed to call the API cross-origin.
	WebServerAllowedOrigins string `mapstructure:"WEBSERVER_ALLOWED_ORIGINS"`

	// Hub Configuration
	HubBroker            string        `mapstructure:"HUB_BROKER" validate:"oneof=none postgres redis"`
	HubChannel           string        `mapstructure:"HUB_CHANNEL" validate:"required,max=63"`
	HubReconcileTimeout  time.Duration `mapstructure:"HUB_RECONCILE_TIMEOUT" validate:"gt=0"`
	HubKeepaliveInterval time.Duration `mapstructure:"HUB_KEEPALIVE_INTERVAL" validate:"gt=0"`
	HubDefaultVoteLimit  int           `mapstructure:"HUB_DEFAULT_VOTE_LIMIT" validate:"min=1"`
	HubMaxSubscribers    int           `mapstructure:"HUB_MAX_SUBSCRIBERS" validate:"min=1"`

	// Database Configuration (postgres broker)
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required_if=HubBroker postgres"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Redis Configuration (redis broker)
	RedisURL string `mapstructure:"REDIS_URL" validate:"required_if=HubBroker redis"`

	// Host cookie signing key
	SessionSecret string `mapstructure:"SESSION_SECRET"`
}

// String keeps secrets out of logs.
func (c Config) String() string {
	return fmt.Sprintf("{port=%d broker=%s channel=%s reconcile_timeout=%s keepalive=%s vote_limit=%d max_subscribers=%d}",
		c.WebServerPort, c.HubBroker, c.HubChannel, c.HubReconcileTimeout, c.HubKeepaliveInterval, c.HubDefaultVoteLimit, c.HubMaxSubscribers)
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	typ := reflect.TypeOf(c)
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("mapstructure"); tag != "" {
			_ = viper.BindEnv(tag)
		}
	}
	slog.Debug("Environment variables bound", "fields", typ.NumField())
}

// LoadConfig reads configuration from the environment and, when path is set,
// from a yaml file. Environment variables win over the file.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("HUB_BROKER", BrokerNone)
	viper.SetDefault("HUB_CHANNEL", "retro_hub")
	viper.SetDefault("HUB_RECONCILE_TIMEOUT", 1200*time.Millisecond)
	viper.SetDefault("HUB_KEEPALIVE_INTERVAL", 15*time.Second)
	viper.SetDefault("HUB_DEFAULT_VOTE_LIMIT", 5)
	viper.SetDefault("HUB_MAX_SUBSCRIBERS", 100)
	viper.SetDefault("DATABASE_RETRIES", 10)

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration", "config", cfg.String())

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
