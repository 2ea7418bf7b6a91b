package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 5, cfg.World.BoxCount)
	require.Equal(t, 30*time.Second, cfg.World.StaleAfter.Std())
	require.Equal(t, 10*time.Second, cfg.World.SweepInterval.Std())
	require.Len(t, cfg.Agents.Profiles, 2)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
world:
  box_count: 8
  stale_after: 45s
agents:
  enabled: false
  profiles:
    - id: scout
      display_name: Scout
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 8, cfg.World.BoxCount)
	require.Equal(t, 45*time.Second, cfg.World.StaleAfter.Std())
	// Fields the file omits keep their defaults.
	require.Equal(t, 10*time.Second, cfg.World.SweepInterval.Std())
	require.False(t, cfg.Agents.Enabled)
	require.Equal(t, []AgentProfile{{ID: "scout", DisplayName: "Scout"}}, cfg.Agents.Profiles)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
`)
	t.Setenv("EYEFIELD_ADDR", ":7777")
	t.Setenv("EYEFIELD_STALE_AFTER", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Server.Addr)
	require.Equal(t, time.Minute, cfg.World.StaleAfter.Std())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative boxes", "world:\n  box_count: -1\n"},
		{"bad duration", "world:\n  stale_after: soon\n"},
		{"empty agent id", "agents:\n  profiles:\n    - display_name: Ghost\n"},
		{"duplicate agent id", "agents:\n  profiles:\n    - id: a\n    - id: a\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}
