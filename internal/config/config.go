// Package config provides configuration loading for guestnotes.
package config

import (
	"net/url"
	"time"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Backend  BackendConfig   `koanf:"backend"`
	Storage  StorageConfig   `koanf:"storage"`
	Callback CallbackConfig  `koanf:"callback"`
	Logging  *logging.Config `koanf:"logging"`
}

// BackendConfig configures the hosted auth + row-storage service.
type BackendConfig struct {
	// URL is the base URL of the hosted service.
	URL string `koanf:"url"`

	// AnonKey is the public API key sent with every request.
	AnonKey Secret `koanf:"anon_key"`

	// RequestTimeout bounds each remote call. There is no per-operation
	// cancellation beyond this transport default.
	RequestTimeout Duration `koanf:"request_timeout"`
}

// StorageConfig configures client-local persistent storage.
type StorageConfig struct {
	// Path is the storage file location. Empty means
	// ~/.config/guestnotes/storage.json.
	Path string `koanf:"path"`
}

// CallbackConfig configures the email-verification callback listener.
type CallbackConfig struct {
	Addr          string   `koanf:"addr"`
	RedirectDelay Duration `koanf:"redirect_delay"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
		Callback: CallbackConfig{
			Addr:          ":3000",
			RedirectDelay: Duration(3 * time.Second),
		},
		Logging: logging.NewDefaultConfig(),
	}
}

// Validate checks the configuration. A missing backend configuration blocks
// every command with a single static message, checked once at top level.
func (c *Config) Validate() error {
	if c.Backend.URL == "" || !c.Backend.AnonKey.IsSet() {
		return apperr.New(apperr.KindConfiguration,
			"backend service is not configured: set backend.url and backend.anon_key")
	}
	if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "backend.url is not a valid URL", err)
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return apperr.Wrap(apperr.KindConfiguration, "invalid logging config", err)
		}
	}
	return nil
}
