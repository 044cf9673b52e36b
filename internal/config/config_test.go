package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsThenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iruka.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server: judge.example.com:9443
auth_token: secret-token
nsjail_path: /usr/bin/nsjail
testdata_path: /srv/testdata
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "judge.example.com:9443", cfg.Server)
	require.Equal(t, "secret-token", cfg.AuthToken)
	// Defaults survive for fields the file didn't set.
	require.Equal(t, "/run/shm", cfg.Pipeline.BuildDir)
	require.EqualValues(t, 128*1024, cfg.Pipeline.BuildOutputCapBytes)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iruka.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server: judge.example.com:9443
auth_token: secret-token
nsjail_path: /usr/bin/nsjail
testdata_path: /srv/testdata
`), 0o644))

	t.Setenv("IRUKA_SERVER", "override.example.com:1234")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "override.example.com:1234", cfg.Server)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.Error(t, err) // mandatory keys still unset -> validation fails
	require.Contains(t, err.Error(), "server")
}

func TestValidateRejectsEmptyMandatoryFields(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Server = "s"
	cfg.AuthToken = "t"
	cfg.NsjailPath = "/bin/true"
	cfg.TestdataPath = "/tmp"
	cfg.Logging.Level = "verbose"
	require.Error(t, cfg.Validate())
}
