package fedlet_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedlet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[agent]
device_id = "edge-01"
models = ["M1", "M2"]
check_interval = "1m"
max_concurrent = 2

[tasks]
url = "http://tasks.local"
request_timeout = "5s"

[mqtt]
url = "tcp://localhost:1883"
domain_id = "d1"
channel_id = "c1"
qos = 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := fedlet.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "edge-01", cfg.Agent.DeviceID)
	assert.Equal(t, []string{"M1", "M2"}, cfg.Agent.Models)
	assert.Equal(t, time.Minute, fedlet.Duration(cfg.Agent.CheckInterval))
	assert.Equal(t, 2, cfg.Agent.MaxConcurrent)
	assert.Equal(t, "http://tasks.local", cfg.Tasks.URL)
	assert.Equal(t, 5*time.Second, fedlet.Duration(cfg.Tasks.RequestTimeout))
	assert.Equal(t, "10m", cfg.Tasks.TransferTimeout, "unset fields keep defaults")
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, "info", cfg.Agent.LogLevel)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FEDLET_AGENT_DEVICE_ID", "edge-02")
	t.Setenv("FEDLET_AGENT_MODELS", "M3,M4")
	t.Setenv("FEDLET_TASKS_URL", "http://other.local")
	t.Setenv("FEDLET_API_ADDRESS", ":9090")

	cfg, err := fedlet.LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "edge-02", cfg.Agent.DeviceID)
	assert.Equal(t, []string{"M3", "M4"}, cfg.Agent.Models)
	assert.Equal(t, "http://other.local", cfg.Tasks.URL)
	assert.Equal(t, ":9090", cfg.API.Address)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("FEDLET_TASKS_URL", "http://tasks.local")

	cfg, err := fedlet.LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Agent.DeviceID)
	assert.Equal(t, 5*time.Minute, fedlet.Duration(cfg.Agent.CheckInterval))
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "malformed toml",
			content: "[agent\n",
		},
		{
			name:    "missing tasks url",
			content: "[agent]\ndevice_id = \"x\"\n",
		},
		{
			name:    "bad duration",
			content: "[tasks]\nurl = \"http://t\"\n[agent]\ncheck_interval = \"soon\"\n",
		},
		{
			name:    "bad qos",
			content: "[tasks]\nurl = \"http://t\"\n[mqtt]\nqos = 3\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fedlet.LoadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestSaveConfig(t *testing.T) {
	cfg := fedlet.DefaultConfig()
	cfg.Tasks.URL = "http://tasks.local"
	cfg.Agent.Models = []string{"M1"}

	path := filepath.Join(t.TempDir(), "saved.toml")
	require.NoError(t, fedlet.SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := fedlet.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}
