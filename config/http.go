package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadTimeout bounds how long the server waits reading a request.
	// Streaming responses are exempt from WriteTimeout (see stream handler).
	ReadTimeoutSeconds int `env:"HTTP_READ_TIMEOUT_SECONDS" envDefault:"30"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `env:"HTTP_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"10"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadTimeoutSeconds < 1 {
		h.ReadTimeoutSeconds = 1
	}
	if h.ShutdownTimeoutSeconds < 1 {
		h.ShutdownTimeoutSeconds = 1
	}
}
