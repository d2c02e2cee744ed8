package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRepoPath, r.RepoPath)
	assert.Equal(t, DefaultXarScriptDir, r.XarScriptDir)
	assert.Equal(t, "8h", r.GracePeriod)
}

func TestLoadPrecedenceFlagOverEnvOverFileOverDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repoPath: /from/file\ngracePeriod: 1d\nxarScriptDir: /from/file/bin\n"), 0o640))

	r, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "/from/file", r.RepoPath)
	assert.Equal(t, "1d", r.GracePeriod)
	assert.Equal(t, "/from/file/bin", r.XarScriptDir)

	t.Setenv("CTR_REPO_PATH", "/from/env")
	r, err = Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "/from/env", r.RepoPath)
	assert.Equal(t, "1d", r.GracePeriod)

	r, err = Load(path, Overrides{RepoPath: "/from/flag"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", r.RepoPath)
}

func TestLoadRejectsMalformedGracePeriod(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{GracePeriod: "not-a-duration"})
	assert.Error(t, err)
}
