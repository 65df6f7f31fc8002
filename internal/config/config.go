// Package config loads remindflow settings from defaults, an optional config
// file, a .env file and REMINDFLOW_* environment variables, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "REMINDFLOW"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	URL    string `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=1s"`
}

type DeliveryConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9000")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "remindflow.db")
	v.SetDefault("store.url", "")
	v.SetDefault("poller.interval", "30s")
	v.SetDefault("delivery.webhook_url", "http://localhost:9000/webhook/telex")
	v.SetDefault("delivery.timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load builds a Config. file may be empty; a missing .env is not an error.
func Load(file string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Kept for deployments configured for the earlier telex integration.
	if err := v.BindEnv("delivery.webhook_url", envPrefix+"_DELIVERY_WEBHOOK_URL", "TELEX_WEBHOOK_URL"); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", e.Namespace(), e.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
