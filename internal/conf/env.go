// env.go - Environment variable configuration and validation for tilesync
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicit bindings. Everything else is reachable
// through the TILESYNC_ prefix, e.g. TILESYNC_TILES_ZOOM.
func getEnvBindings() []envBinding {
	return []envBinding{
		// Provider credentials under their conventional names
		{"provider.apikey", "GOOGLE_MAPS_API_KEY", validateEnvAPIKey},
		{"provider.apikey", "TILESYNC_PROVIDER_APIKEY", validateEnvAPIKey},
		{"provider.concurrency", "TILESYNC_PROVIDER_CONCURRENCY", validateEnvConcurrency},
		{"provider.timeout", "TILESYNC_PROVIDER_TIMEOUT", validateEnvDuration},

		{"tiles.zoom", "TILESYNC_TILES_ZOOM", validateEnvZoom},

		{"inference.url", "TILESYNC_INFERENCE_URL", validateEnvURL},
		{"inference.cachettl", "TILESYNC_INFERENCE_CACHETTL", validateEnvDuration},

		{"telemetry.sentrydsn", "SENTRY_DSN", validateEnvURL},
		{"debug", "TILESYNC_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	// group bindings per key so aliases resolve in table order
	keys := make(map[string][]string)
	var order []string
	for _, binding := range getEnvBindings() {
		if _, seen := keys[binding.ConfigKey]; !seen {
			order = append(order, binding.ConfigKey)
		}
		keys[binding.ConfigKey] = append(keys[binding.ConfigKey], binding.EnvVar)

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
			}
		}
	}

	for _, key := range order {
		input := append([]string{key}, keys[key]...)
		if err := viper.BindEnv(input...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", key, err))
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

// validateEnvZoom validates the tile zoom level
func validateEnvZoom(value string) error {
	z, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("must be between 0 and %d", MaxZoom)
	}
	return nil
}

// validateEnvConcurrency validates the download pool size
func validateEnvConcurrency(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}

// validateEnvDuration validates Go duration strings such as "30s"
func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 30s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// validateEnvURL validates absolute http(s) URLs
func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// validateEnvAPIKey rejects keys that would corrupt the request URL
func validateEnvAPIKey(value string) error {
	if strings.ContainsAny(value, " \t\r\n&?#") {
		return fmt.Errorf("contains characters not allowed in an API key")
	}
	return nil
}
