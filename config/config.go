package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and shared-cache configuration
//   - http.go: HTTP server configuration
//   - progress.go: Progress tracking and delivery configuration
//   - services.go: Service mode configuration
type AppConfig struct {
	// IsDev controls development mode behavior (relaxed timeouts, text logs).
	// Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Progress tracking configuration
	Progress ProgressConfig

	// Cleanup sweeper configuration
	Sweeper SweeperConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,sweeper"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Progress.Sanitize()
	c.Sweeper.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and APP_ENV environment variables.
// APP_ENV is checked as a fallback for deployments that set it instead.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsSweeperEnabled returns true if the cleanup sweeper service is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}
