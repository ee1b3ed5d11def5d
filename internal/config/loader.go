package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/testrelay/internal/balancer"
	"github.com/mattjoyce/testrelay/internal/dispatch"
	"github.com/mattjoyce/testrelay/internal/suite"
)

// EndpointsEnv overrides dispatch.endpoints when set.
const EndpointsEnv = "TESTRELAY_ENDPOINTS"

// ConfigEnv names a config file to use when no path is given.
const ConfigEnv = "TESTRELAY_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. An empty path means
// DiscoverConfigPath; when nothing is found the defaults are used.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DiscoverConfigPath()
	}

	cfg := Defaults()
	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s\n"+
					"Hint: Check the path or run with -config", absPath)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := interpolateEnv(string(data))
		dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
	}

	if v, ok := os.LookupEnv(EndpointsEnv); ok && v != "" {
		cfg.Dispatch.Endpoints = v
	}

	cfg = applyConfigDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds a config file by checking standard locations.
// Priority order: $TESTRELAY_CONFIG, ./testrelay.yaml, ~/.config/testrelay/config.yaml.
// It returns "" when none exists.
func DiscoverConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	candidates := []string{"./testrelay.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "testrelay", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// applyConfigDefaults fills zero values left by a sparse file.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.Dispatch.Endpoints == "" {
		cfg.Dispatch.Endpoints = defaults.Dispatch.Endpoints
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = defaults.Dispatch.Timeout
	}
	if cfg.Dispatch.ReadTimeout == 0 {
		cfg.Dispatch.ReadTimeout = defaults.Dispatch.ReadTimeout
	}
	if cfg.Dispatch.ProbeTimeout == 0 {
		cfg.Dispatch.ProbeTimeout = defaults.Dispatch.ProbeTimeout
	}
	if cfg.Dispatch.Runner == "" {
		cfg.Dispatch.Runner = defaults.Dispatch.Runner
	}
	if cfg.Dispatch.Fallback == "" {
		cfg.Dispatch.Fallback = defaults.Dispatch.Fallback
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation)
		return match
	})
}

// Validate checks a fully defaulted configuration. Flag overrides are
// applied by the caller, which re-validates afterwards.
func Validate(cfg *Config) error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if m := envVarPattern.FindStringSubmatch(cfg.Dispatch.Endpoints); m != nil {
		return fmt.Errorf("dispatch.endpoints: environment variable ${%s} is not set", m[1])
	}
	if _, err := balancer.ParseEndpoints(cfg.Dispatch.Endpoints); err != nil {
		return fmt.Errorf("dispatch.endpoints: %w", err)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"dispatch.timeout", cfg.Dispatch.Timeout},
		{"dispatch.read_timeout", cfg.Dispatch.ReadTimeout},
		{"dispatch.probe_timeout", cfg.Dispatch.ProbeTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if !slices.Contains(suite.Runners, cfg.Dispatch.Runner) {
		return fmt.Errorf("dispatch.runner must be one of %v (got %q)", suite.Runners, cfg.Dispatch.Runner)
	}
	if cfg.Dispatch.Fallback != dispatch.FallbackLocal && cfg.Dispatch.Fallback != dispatch.FallbackFail {
		return fmt.Errorf("dispatch.fallback must be %s or %s (got %q)", dispatch.FallbackLocal, dispatch.FallbackFail, cfg.Dispatch.Fallback)
	}

	if envVarPattern.MatchString(cfg.State.Path) {
		return fmt.Errorf("state.path: unresolved environment variable")
	}
	return nil
}

// Endpoints parses dispatch.endpoints.
func (c *Config) Endpoints() ([]balancer.Endpoint, error) {
	return balancer.ParseEndpoints(c.Dispatch.Endpoints)
}

// DispatcherConfig converts dispatch settings to the dispatcher's settings.
func (c *Config) DispatcherConfig() dispatch.Config {
	return dispatch.Config{
		Timeout:     c.Dispatch.Timeout,
		ReadTimeout: c.Dispatch.ReadTimeout,
		Runner:      c.Dispatch.Runner,
		Fallback:    c.Dispatch.Fallback,
	}
}
