package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsagent.toml")

	out, err := runCLI(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	out, err = runCLI(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	_, err = runCLI(t, "--config", path, "init")
	var exitErr exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.code)
	assert.Contains(t, exitErr.message, "--force")

	_, err = runCLI(t, "--config", path, "init", "--force")
	require.NoError(t, err)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	require.Error(t, err)
}

func TestRoot_RejectsBadLogFormat(t *testing.T) {
	_, err := runCLI(t, "--log-format", "xml", "validate")
	require.Error(t, err)
}
