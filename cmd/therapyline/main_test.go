package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "therapyline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_CheckValidConfig(t *testing.T) {
	var stderr bytes.Buffer
	path := writeConfig(t, "http:\n  port: 9191\n")

	err := run(context.Background(), []string{"-config", path, "-check"}, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "configuration OK")
}

func TestRun_ConfigFromEnvironment(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 9192\n")
	t.Setenv("THERAPYLINE_CONFIG_FILE", path)

	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-check"}, &stderr))
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "events:\n  queue_size: -1\n")

	err := run(context.Background(), []string{"-config", path, "-check"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_UnknownFlag(t *testing.T) {
	err := run(context.Background(), []string{"-nope"}, &bytes.Buffer{})
	assert.Error(t, err)
}
