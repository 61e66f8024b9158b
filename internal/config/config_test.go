package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":5001", cfg.Listen)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "transcriber", cfg.Agents[0].Name)
	assert.Equal(t, "scheduler", cfg.Agents[1].Name)
	assert.Equal(t, 60, cfg.CallTimeout)
	assert.Equal(t, 300, cfg.BulkCallTimeout)
	assert.Equal(t, 3, cfg.StartupSettle)
	assert.Equal(t, 5, cfg.ShutdownGrace)
	require.NoError(t, cfg.Validate())
}

func TestAgentLookup(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg.Agent("transcriber"))
	assert.Equal(t, "python3", cfg.Agent("transcriber").Command)
	assert.Nil(t, cfg.Agent("nope"))
}

func TestTimeoutForTool(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300*time.Second, cfg.TimeoutForTool("transcribe_audio_file"))
	assert.Equal(t, 60*time.Second, cfg.TimeoutForTool("list_transcriptions"))
	assert.Equal(t, 60*time.Second, cfg.TimeoutForTool("anything_else"))
}

func TestLifecycleIntervals(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3*time.Second, cfg.SettleInterval())
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"agent without name", func(c *Config) { c.Agents[0].Name = "" }},
		{"agent without command", func(c *Config) { c.Agents[0].Command = "" }},
		{"duplicate agent names", func(c *Config) { c.Agents[1].Name = c.Agents[0].Name }},
		{"zero call timeout", func(c *Config) { c.CallTimeout = 0 }},
		{"negative bulk timeout", func(c *Config) { c.BulkCallTimeout = -1 }},
		{"negative settle", func(c *Config) { c.StartupSettle = -1 }},
		{"zero shutdown grace", func(c *Config) { c.ShutdownGrace = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	// Run from a directory with no meetingd.json.
	wd, err0 := os.Getwd()
	require.NoError(t, err0)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Len(t, cfg.Agents, len(DefaultConfig().Agents))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetingd.json")
	data := `{
		"listen": ":9000",
		"base-dir": "/srv/agents",
		"call-timeout": 15,
		"agents": [
			{"name": "transcriber", "command": "python3", "args": ["transcriber_server.py"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "/srv/agents", cfg.BaseDir)
	assert.Equal(t, 15, cfg.CallTimeout)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "transcriber", cfg.Agents[0].Name)

	// Unset keys keep their defaults.
	assert.Equal(t, 300, cfg.BulkCallTimeout)
	assert.Equal(t, 5, cfg.ShutdownGrace)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetingd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen": ""}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
