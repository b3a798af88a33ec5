package command

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "discover", "announce", "sync", "token"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestRootCommand_RejectsInvalidConfig(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv("PAIRING_TRANSPORT", "carrier-pigeon")

	rootCmd.SetArgs([]string{"token", "--env-file", envPath})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAIRING_TRANSPORT")
}

func TestTokenCommand(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv("LOCAL_API_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("PAIRING_TRANSPORT", "tcp")

	rootCmd.SetArgs([]string{"token", "--env-file", envPath, "--log-level", "warn", "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "warn", cfg.LogLevel)
}
