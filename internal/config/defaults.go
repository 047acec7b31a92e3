package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	defaultHTTPPort  = 8080
	defaultGRPCPort  = 50051
	defaultCacheSize = 256
)

// DefaultConfigPath returns the default path for the beamline config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "beamline", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "beamline")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "beamline")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "beamline")
		}
		return filepath.Join(home, ".config", "beamline")
	}
}

// DefaultHomePath returns the default per-user storage directory that
// fetched model artifacts are cached in.
func DefaultHomePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".beamline")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "beamline")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "beamline")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "beamline")
		}
		return filepath.Join(home, ".cache", "beamline")
	}
}

// DefaultHTTPPort returns the default HTTP port.
func DefaultHTTPPort() int {
	return defaultHTTPPort
}

// DefaultGRPCPort returns the default gRPC port.
func DefaultGRPCPort() int {
	return defaultGRPCPort
}

// applyDefaults fills zero values that have a sensible default.
func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = defaultHTTPPort
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = defaultGRPCPort
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = defaultCacheSize
	}
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
}
