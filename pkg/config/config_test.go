package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, "controlplane.db", cfg.DBPath)
	require.Equal(t, "default", cfg.Signing.KeyID)
	require.False(t, cfg.Tracing.LogSpans)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := "listen: \":9090\"\nsigning:\n  secret: file-secret\n  key_id: k1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("STAFFSIGHT_SIGNING_SECRET", "env-secret")
	t.Setenv("STAFFSIGHT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "env-secret", cfg.Signing.Secret)
	require.Equal(t, "k1", cfg.Signing.KeyID)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_NormalizesBadValues(t *testing.T) {
	cfg := Default()
	cfg.Signing.KeyID = ""
	cfg.Tracing.SampleRatio = 4
	require.NoError(t, cfg.Validate())
	require.Equal(t, "default", cfg.Signing.KeyID)
	require.Equal(t, float64(1), cfg.Tracing.SampleRatio)
}

func TestValidate_RequiresListenAndDB(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	require.ErrorIs(t, cfg.Validate(), ErrMissingListen)

	cfg = Default()
	cfg.DBPath = ""
	require.ErrorIs(t, cfg.Validate(), ErrMissingDBPath)
}
