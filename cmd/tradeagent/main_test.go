package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/crypto"
)

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"trade"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr.String(), "unknown command")

	code = run(nil, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	t.Setenv("TRADEAGENT_SECRET_PASSWORD", "hunter2")
	out := filepath.Join(t.TempDir(), "secret.enc")

	var stdout, stderr bytes.Buffer
	code := run([]string{"encrypt-secret", "-out", out}, strings.NewReader("api-secret\n"), &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	got, err := crypto.DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "api-secret", got)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEncryptSecretValidation(t *testing.T) {
	out := filepath.Join(t.TempDir(), "secret.enc")

	tests := []struct {
		name     string
		args     []string
		stdin    string
		password string
		want     string
	}{
		{"missing out", []string{"encrypt-secret"}, "x\n", "pw", "-out is required"},
		{"missing password", []string{"encrypt-secret", "-out", out}, "x\n", "", "is not set"},
		{"empty secret", []string{"encrypt-secret", "-out", out}, "\n", "pw", "empty secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TRADEAGENT_SECRET_PASSWORD", tt.password)
			var stdout, stderr bytes.Buffer
			code := run(tt.args, strings.NewReader(tt.stdin), &stdout, &stderr)
			assert.Equal(t, exitFailed, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[trading]\ntake_profit_pct = 2.0\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"run", "-config", path}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stdout.String(), "invalid configuration")
}
