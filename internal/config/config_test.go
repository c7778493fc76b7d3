package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "/ws")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ResyncInterval.Std())
	assert.Equal(t, time.Second, cfg.Countdown.Interval.Std())
	assert.Equal(t, "Task Reminder", cfg.Notify.Title)
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, err := WriteDefault(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, "/ws/reminder.yml", path)

	cfg, err := Load(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = WriteDefault(fs, "/ws")
	assert.Error(t, err)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/reminder.yml", []byte(`
scheduler:
  max_delay: 1h
alarms:
  reject_past_datetime: true
notify:
  command: ["notify-send", "{title}", "{message}"]
  webhooks:
    - url: https://hooks.example.com/a
      timeout: 3s
    - url: https://hooks.example.com/b
      enabled: false
`), 0o644))

	cfg, err := Load(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Scheduler.MaxDelay.Std())
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ResyncInterval.Std())
	assert.True(t, cfg.Alarms.RejectPastDatetime)
	assert.Equal(t, []string{"notify-send", "{title}", "{message}"}, cfg.Notify.Command)
	require.Len(t, cfg.Notify.Webhooks, 2)
	assert.True(t, cfg.Notify.Webhooks[0].Active())
	assert.Equal(t, 3*time.Second, cfg.Notify.Webhooks[0].Timeout.Std())
	assert.False(t, cfg.Notify.Webhooks[1].Active())
}

func TestLoadTOML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/reminder.toml", []byte(`
[countdown]
interval = "500ms"

[log]
level = "debug"
format = "json"
`), 0o644))

	cfg, err := Load(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Countdown.Interval.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "scheduler:\n  max_delay: soon\n",
		"zero resync":    "scheduler:\n  resync_interval: 0s\n",
		"bad webhook":    "notify:\n  webhooks:\n    - url: ftp://x\n",
		"bad log format": "log:\n  format: xml\n",
		"auth no secret": "server:\n  require_auth: true\n",
		"base path":      "server:\n  base_path: api\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}
