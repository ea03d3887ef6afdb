package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "kurir", root.Use)
	assert.Equal(t, version, root.Version)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "validate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, "0.1.0", GetVersion())
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := GetRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kurir.json")
		content := `{
			"channels": {
				"mailbox": {
					"enabled": true,
					"settings": {
						"username": "bot@example.com",
						"password": "pw",
						"imap_host": "imap.example.com",
						"smtp_host": "smtp.example.com"
					}
				}
			}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		stdout, _, err := runCommand(t, "--config", path, "validate")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Configuration is valid")
	})

	t.Run("broken config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kurir.json")
		content := `{
			"channels": {
				"longpoll": {"enabled": true, "settings": {}}
			}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, stderr, err := runCommand(t, "--config", path, "validate")
		require.Error(t, err)
		assert.Contains(t, stderr, "bot_token")
	})
}

func TestStatusCommand_NotRunning(t *testing.T) {
	// Point HOME at an empty dir so no PID file is found.
	t.Setenv("HOME", t.TempDir())

	stdout, _, err := runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "not running")
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, isRunning(filepath.Join(dir, "absent.pid")))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0644))
	assert.False(t, isRunning(bad))

	own := filepath.Join(dir, "own.pid")
	require.NoError(t, os.WriteFile(own, []byte("1"), 0644))
	// PID 1 exists but is not signalable by an unprivileged user; either
	// way the function must not panic.
	_ = isRunning(own)
}
