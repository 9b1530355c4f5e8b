package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/mars"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stargate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Transport, cfg.Transport)
	assert.Equal(t, def.Fence, cfg.Fence)
	assert.Equal(t, def.Mars.DNS, cfg.Mars.DNS)
	assert.Equal(t, 5*time.Minute, cfg.FenceTimings().HeartbeatInterval)
	assert.Equal(t, 120*time.Second, cfg.SessionTimings().HandshakeTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
transport: MARS
log:
  level: debug
mars:
  long_link_address: station.test
  long_link_port: 7000
  short_link_port: 7001
  task_timeout: 5s
  dns:
    - host: station.test
      ips: [10.0.0.1, 10.0.0.2]
session:
  user: alice
  purge_interval: 1m
  confirm: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportMars, cfg.Transport)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.NetworkConfig().TaskTimeout)
	assert.Equal(t, time.Minute, cfg.SessionTimings().PurgeInterval)
	assert.Equal(t, "alice", cfg.Session.User)
	assert.True(t, cfg.SessionTimings().Confirm)

	opts := cfg.LaunchOptions()
	assert.Equal(t, "station.test", opts.String(mars.OptLongLinkAddress, ""))
	assert.Equal(t, 7000, opts.Int(mars.OptLongLinkPort, 0))
	assert.Equal(t, 7001, opts.Int(mars.OptShortLinkPort, 0))
	assert.Equal(t, map[string][]string{"station.test": {"10.0.0.1", "10.0.0.2"}}, opts.StringSlices(mars.OptNewDNS))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STARGATE_FENCE_HOST", "10.1.1.1")
	t.Setenv("STARGATE_FENCE_PORT", "9000")

	cfg, err := Load(writeConfig(t, "transport: fence\n"))
	require.NoError(t, err)

	assert.Equal(t, stargate.Options{"host": "10.1.1.1", "port": 9000}, cfg.LaunchOptions())
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown transport", "transport: pigeon\n"},
		{"bad fence port", "fence:\n  port: 70000\n"},
		{"bad mars port", "transport: mars\nmars:\n  short_link_port: 0\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"broken yaml", "transport: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
