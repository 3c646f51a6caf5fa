package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// t.Chdir equivalent for toolchains before Go 1.24
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir())) // no config file anywhere in sight
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DefaultEngine(), cfg.Engine)
}

func TestDefaultEngineContractValues(t *testing.T) {
	e := DefaultEngine()
	assert.Equal(t, 5*time.Second, e.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, e.DegradedAfter)
	assert.Equal(t, 20*time.Second, e.ReconnectingAfter)
	assert.Equal(t, 30*time.Second, e.ReconnectGrace)
	assert.Equal(t, 60*time.Second, e.RoomIdleGrace)
	assert.Equal(t, 150*time.Millisecond, e.PresenceDebounce)
	assert.Equal(t, 5*time.Second, e.TypingExpiry)
	assert.Equal(t, 500, e.HistorySize)
	assert.Equal(t, 2*time.Second, e.ClaimProbeGrace)
}
