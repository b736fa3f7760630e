package api

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// fileOverrides holds the subset of ServerConfig that can additionally be
// set from an optional YAML file, for local development where exporting a
// dozen environment variables is friction. Environment variables always
// win: LoadServerConfig reads the environment first, then applies a file
// value only to fields whose variable is not present in the environment.
type fileOverrides struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	//nolint:tagliatelle
	APIRPMPerKey int `yaml:"api_rpm_per_key"`
	//nolint:tagliatelle
	IngestRPM int `yaml:"ingest_rpm"`
	//nolint:tagliatelle
	BurstSize int `yaml:"burst_size"`
}

const (
	// DefaultConfigFilePath is the optional local-development overrides file.
	DefaultConfigFilePath = ".errly.yaml"

	// ConfigFilePathEnvVar names the variable that relocates the file above.
	ConfigFilePathEnvVar = "ERRLY_CONFIG_PATH"
)

// loadFileOverrides reads path if present; a missing file is not an error
// (the feature is optional), and invalid YAML degrades to empty overrides
// with a logged warning rather than failing startup.
func loadFileOverrides(path string) fileOverrides {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from a trusted local config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read config file, continuing without overrides",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return fileOverrides{}
	}

	var overrides fileOverrides

	if err := yaml.Unmarshal(data, &overrides); err != nil {
		slog.Warn("failed to parse config file, continuing without overrides",
			slog.String("path", path), slog.String("error", err.Error()))

		return fileOverrides{}
	}

	return overrides
}

// applyTo merges non-zero file overrides into cfg, giving them lower
// precedence than anything already set from the environment.
func (f fileOverrides) applyTo(cfg *ServerConfig, envSet func(key string) bool) {
	if len(f.CORSAllowedOrigins) > 0 && !envSet("CORS_ALLOWED_ORIGINS") {
		cfg.CORSAllowedOrigins = f.CORSAllowedOrigins
	}

	if f.APIRPMPerKey > 0 && !envSet("API_RPM_PER_KEY") {
		cfg.APIRPMPerKey = f.APIRPMPerKey
	}

	if f.IngestRPM > 0 && !envSet("INGEST_RPM") {
		cfg.IngestRPM = f.IngestRPM
	}

	if f.BurstSize > 0 && !envSet("BURST_SIZE") {
		cfg.BurstSize = f.BurstSize
	}
}
