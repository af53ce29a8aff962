// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateTileSettings(&settings.Tiles); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateProviderSettings(&settings.Provider); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateInferenceSettings(&settings.Inference); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateTileSettings validates the collection layout
func validateTileSettings(settings *TileSettings) error {
	if settings.Zoom < 0 || settings.Zoom > MaxZoom {
		return fmt.Errorf("tiles.zoom must be between 0 and %d, got %d", MaxZoom, settings.Zoom)
	}
	dirs := map[string]string{
		"tiles.satellitedir":   settings.SatelliteDir,
		"tiles.labelsdir":      settings.LabelsDir,
		"tiles.predictionsdir": settings.PredictionsDir,
		"tiles.oaidir":         settings.OAIDir,
	}
	for key, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if settings.NegativesFile == "" || settings.DiscoveriesFile == "" {
		return fmt.Errorf("tiles.negativesfile and tiles.discoveriesfile must be set")
	}
	if settings.CacheSize < 0 {
		return fmt.Errorf("tiles.cachesize must not be negative")
	}
	if settings.DiskWarning < 0 || settings.DiskWarning > 100 {
		return fmt.Errorf("tiles.diskwarning must be between 0 and 100, got %g", settings.DiskWarning)
	}
	return nil
}

// validateProviderSettings validates the remote tile provider settings
func validateProviderSettings(settings *ProviderSettings) error {
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(settings.URLTemplate, placeholder) {
			return fmt.Errorf("provider.urltemplate must contain %s", placeholder)
		}
	}
	if settings.Concurrency < 1 {
		return fmt.Errorf("provider.concurrency must be at least 1, got %d", settings.Concurrency)
	}
	if settings.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}
	if settings.RateLimit < 0 {
		return fmt.Errorf("provider.ratelimit must not be negative")
	}
	return nil
}

// validateInferenceSettings validates the inference proxy settings
func validateInferenceSettings(settings *InferenceSettings) error {
	if settings.URL == "" {
		return nil
	}
	if err := validateEnvURL(settings.URL); err != nil {
		return fmt.Errorf("inference.url: %w", err)
	}
	return nil
}

// validateWebServerSettings validates the HTTP API settings
func validateWebServerSettings(settings *WebServerSettings) error {
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver.listen must be host:port, got %q", settings.Listen)
	}
	if settings.StreamRate < 0 {
		return fmt.Errorf("webserver.streamrate must not be negative")
	}
	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if settings.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("telemetry.listen must be host:port, got %q", settings.Listen)
	}
	return nil
}
