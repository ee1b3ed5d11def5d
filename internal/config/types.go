package config

import "time"

// Config represents the complete testrelay configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	State    StateConfig    `yaml:"state"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig defines execution worker settings.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PIDFile, when set, is locked for the worker's lifetime.
	PIDFile string `yaml:"pid_file"`
}

// DispatchConfig defines dispatcher settings.
type DispatchConfig struct {
	// Endpoints is a comma-separated list of scheme://host:port/ URLs.
	Endpoints    string        `yaml:"endpoints"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Runner       string        `yaml:"runner"`
	Fallback     string        `yaml:"fallback"`
}

// StateConfig defines run history storage. An empty path disables history.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:       ":4578",
			WriteTimeout: 30 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Endpoints:    "http://localhost:4578/",
			Timeout:      10 * time.Minute,
			ReadTimeout:  120 * time.Second,
			ProbeTimeout: 2 * time.Second,
			Runner:       "sequential",
			Fallback:     "local",
		},
		State: StateConfig{
			Path: "./data/testrelay.db",
		},
	}
}
