package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satrio/kurir/internal/config"
	"github.com/satrio/kurir/internal/logger"
	"github.com/satrio/kurir/pkg/agent"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
	"github.com/satrio/kurir/pkg/session"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func echoRunner() agent.Runner {
	return agent.RunnerFunc(func(_ context.Context, _ *session.Session, text string) (string, error) {
		return "echo: " + text, nil
	})
}

func mailboxSection() config.ChannelConfig {
	return config.ChannelConfig{
		Enabled: true,
		Settings: map[string]any{
			"username":  "bot@example.com",
			"password":  "pw",
			"imap_host": "imap.invalid",
			"smtp_host": "smtp.invalid",
		},
	}
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNew_FailsWhenEveryChannelIsBroken(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Channels.CryptoHook = config.ChannelConfig{
		Enabled:  true,
		Settings: map[string]any{"token": "t"}, // missing the rest
	}

	_, err := New(cfg, testLogger(t), echoRunner())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize")
}

func TestNew_IsolatesOneBrokenChannel(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Channels.CryptoHook = config.ChannelConfig{
		Enabled:  true,
		Settings: map[string]any{"token": "t"},
	}
	cfg.Channels.Mailbox = mailboxSection()

	d, err := New(cfg, testLogger(t), echoRunner())
	require.NoError(t, err)
	defer d.Stop()

	adapters := d.Registry().List(channel.SlotChannel)
	require.Len(t, adapters, 1)
	assert.Equal(t, "mailbox", adapters[0].Name())
}

func TestNew_NoChannelsEnabled(t *testing.T) {
	d, err := New(baseConfig(t), testLogger(t), echoRunner())
	require.NoError(t, err)
	defer d.Stop()

	assert.Empty(t, d.Registry().List(channel.SlotChannel))
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Channels.Mailbox = mailboxSection()

	d, err := New(cfg, testLogger(t), echoRunner())
	require.NoError(t, err)

	require.NoError(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.Contains(t, status.Channels, "mailbox")

	pidData, err := os.ReadFile(filepath.Join(cfg.DataDir, "kurir.pid"))
	require.NoError(t, err)
	assert.NotEmpty(t, pidData)

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.NoFileExists(t, filepath.Join(cfg.DataDir, "kurir.pid"))

	// Stop again is a no-op.
	require.NoError(t, d.Stop())
}

func TestDaemon_StartTwiceFails(t *testing.T) {
	d, err := New(baseConfig(t), testLogger(t), echoRunner())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	assert.Error(t, d.Start())
}

func TestHandleInbound_RoutesThroughSessions(t *testing.T) {
	d, err := New(baseConfig(t), testLogger(t), echoRunner())
	require.NoError(t, err)
	defer d.Stop()

	in := message.Inbound{
		ID:               message.NewID(),
		ChannelType:      "longpoll",
		SenderID:         "u1",
		ConversationType: message.ConversationDM,
		Content:          message.Content{Type: message.ContentText, Text: "ping"},
		Timestamp:        message.NowMillis(),
	}

	reply, err := d.handleInbound(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", reply)
}

func TestLifecycle_PIDRoundTrip(t *testing.T) {
	d, err := New(baseConfig(t), testLogger(t), echoRunner())
	require.NoError(t, err)

	lm := d.lifecycle
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = lm.GetPID()
	assert.Error(t, err)
}
