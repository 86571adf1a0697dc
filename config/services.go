package config

import (
	"errors"
	"fmt"
	"strings"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server (ingestion + consumption APIs).
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeSweeper runs the cleanup sweeper and reconciler sweep.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}
