package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Session.TimeoutMinutes)
	assert.Empty(t, cfg.EnabledChannels())
}

func TestLoader_LoadsFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kurir.json")
	content := `{
		"channels": {
			"longpoll": {
				"enabled": true,
				"settings": {"bot_token": "123:abc", "poll_timeout_seconds": 10}
			}
		},
		"session": {"timeout_minutes": 5},
		"logging": {"level": "debug"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.TimeoutMinutes)
	assert.Equal(t, "debug", cfg.Logging.Level)

	enabled := cfg.EnabledChannels()
	require.Contains(t, enabled, "longpoll")
	assert.Equal(t, "123:abc", enabled["longpoll"]["bot_token"])

	// Defaults survive where the file is silent.
	assert.Equal(t, 100, cfg.Session.MaxConcurrent)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoader_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kurir.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "kurir.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Channels.Mailbox = ChannelConfig{
		Enabled: true,
		Settings: map[string]any{
			"username":  "bot@example.com",
			"password":  "pw",
			"imap_host": "imap.example.com",
			"smtp_host": "smtp.example.com",
		},
	}
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	enabled := loaded.EnabledChannels()
	require.Contains(t, enabled, "mailbox")
	assert.Equal(t, "bot@example.com", enabled["mailbox"]["username"])
}

func TestLoader_GetConfigPath(t *testing.T) {
	assert.Equal(t, "/tmp/x.json", NewLoader("/tmp/x.json").GetConfigPath())
	assert.Contains(t, NewLoader("").GetConfigPath(), ".kurir")
}
