package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, parseLevel(" debug "))
	assert.Equal(t, log.WarnLevel, parseLevel("warning"))
	assert.Equal(t, log.InfoLevel, parseLevel(""))
	assert.Equal(t, log.InfoLevel, parseLevel("loud"))
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("QUICKART_DOTENV_NEW=from-file\nQUICKART_DOTENV_SET=from-file\n"), 0o600))

	t.Setenv("QUICKART_DOTENV_SET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("QUICKART_DOTENV_NEW") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("QUICKART_DOTENV_NEW"))
	assert.Equal(t, "from-env", os.Getenv("QUICKART_DOTENV_SET"))
}

func TestLoadDotEnv_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("QUICKART_BROKEN='unterminated\n"), 0o600))

	assert.Error(t, loadDotEnv(path))
}
