package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

// Config carries the settings an embedding binary needs to stand up the
// SDK. Everything but the API key and app user ID has a usable default.
type Config struct {
	APIKey      string        `env:"SUBWIRE_API_KEY"`
	AppUserID   string        `env:"SUBWIRE_APP_USER_ID"`
	BaseURL     string        `env:"SUBWIRE_API_URL" envDefault:"https://api.subwire.io"`
	HTTPTimeout time.Duration `env:"SUBWIRE_HTTP_TIMEOUT" envDefault:"30s"`
	ReceiptPath string        `env:"SUBWIRE_RECEIPT_PATH"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
