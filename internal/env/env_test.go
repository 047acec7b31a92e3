package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekisa-team/beamline/internal/envvar"
)

func TestParse(t *testing.T) {
	tests := map[string]Environment{
		"":            Development,
		"dev":         Development,
		"production":  Production,
		" PROD ":      Production,
		"test":        Test,
		"testing":     Test,
		"unsupported": Development,
	}

	for raw, want := range tests {
		assert.Equal(t, want, Parse(raw), "raw=%q", raw)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(envvar.BeamlineEnv, "production")
	assert.Equal(t, Production, FromEnv())
	assert.False(t, FromEnv().IsDevelopment())
}
