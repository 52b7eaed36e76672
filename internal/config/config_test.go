package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 2, cfg.AddendumLimit)
	assert.Equal(t, "static", cfg.VerdictProvider)
	assert.Equal(t, 90*time.Second, cfg.VerdictTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ReplayTTL)
	assert.True(t, cfg.Migrate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COURT_ADDR", ":9000")
	t.Setenv("COURT_ADDENDUM_LIMIT", "3")
	t.Setenv("COURT_VERDICT_TIMEOUT", "5s")
	t.Setenv("COURT_AUTH_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 3, cfg.AddendumLimit)
	assert.Equal(t, 5*time.Second, cfg.VerdictTimeout)
	assert.True(t, cfg.AuthDisabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":        {"COURT_ADDENDUM_LIMIT": "many"},
		"negative limit": {"COURT_ADDENDUM_LIMIT": "-1"},
		"unknown":        {"COURT_VERDICT_PROVIDER": "oracle"},
		"gemini no key":  {"COURT_VERDICT_PROVIDER": "gemini"},
		"http no url":    {"COURT_VERDICT_PROVIDER": "http"},
		"zero timeout":   {"COURT_VERDICT_TIMEOUT": "0s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for key, value := range vars {
				t.Setenv(key, value)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
