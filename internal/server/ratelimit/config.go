package ratelimit

import (
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig limits each client to generationLimit generation requests per
// minute with the given burst. Zero disables rate limiting.
func NewConfig(generationLimit, burst int, whitelist ...string) *Config {
	if generationLimit <= 0 {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       parseIPList(strings.Join(whitelist, ",")),
		Blacklist:       map[string]bool{},
		EndpointConfigs: DefaultEndpointConfigs(generationLimit, burst),
	}
}

// DefaultEndpointConfigs returns the endpoint-specific configurations.
func DefaultEndpointConfigs(generationLimit, burst int) []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: agent and render calls
		{Path: "/runs", Method: "POST", Limit: generationLimit, Window: time.Minute, Burst: burst},
		{Path: "/runs/", Method: "POST", Limit: generationLimit, Window: time.Minute, Burst: burst},
		{Path: "/variations", Method: "POST", Limit: generationLimit, Window: time.Minute, Burst: burst},

		// Tier 2: history writes
		{Path: "/history/delete", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/history/", Method: "PUT", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/history/", Method: "DELETE", Limit: 100, Window: time.Minute, Burst: 10},

		// Tier 3: reads use the default limit; probes are unlimited in the matcher
	}
}

// parseIPList parses a comma-separated list of IP addresses into a map.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	if list == "" {
		return result
	}

	for _, ip := range strings.Split(list, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}

	return result
}
