package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	ClubId   int    `json:"club_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func TestReadConfigMergesLocalOverrides(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(
		filepath.Join(dir, "dzr.json5"),
		[]byte(`{club_id: 2281, username: "bot@dzr.dk", password: ""}`),
		0o644,
	)
	require.NoError(t, err)
	err = os.WriteFile(
		filepath.Join(dir, "dzr.local.json5"),
		[]byte(`{password: "hunter2"}`),
		0o644,
	)
	require.NoError(t, err)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "dzr.json5"))
	require.NoError(t, err)
	require.Equal(t, 2281, config.ClubId)
	require.Equal(t, "bot@dzr.dk", config.Username)
	require.Equal(t, "hunter2", config.Password)
}

func TestReadConfigNotFound(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "dzr.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
