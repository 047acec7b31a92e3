package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/beamline/internal/envvar"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// FromEnv reads the environment from BEAMLINE_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.BeamlineEnv))
}

// Parse maps a raw value onto a known environment.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return Production
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

// IsDevelopment reports whether e is the development environment.
func (e Environment) IsDevelopment() bool {
	return e == Development
}
