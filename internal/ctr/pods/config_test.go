package pods

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func writeRawConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o640))
	return path
}

func TestLoadConfigRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeRawConfig(t, `{
		"name": "myapp",
		"version": "v1",
		"apps": [{"name": "web", "exec": ["/bin/true"], "user": "root", "group": "root"}],
		"images": [{"id": "0000000000000000000000000000000000000000000000000000000000000000"}],
		"unexpected": "surprise"
	}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Validation, ctrerr.KindOf(err))
}

func TestLoadConfigRejectsUnknownNestedKey(t *testing.T) {
	path := writeRawConfig(t, `{
		"name": "myapp",
		"version": "v1",
		"apps": [{"name": "web", "exec": ["/bin/true"], "user": "root", "group": "root", "bogus": true}],
		"images": [{"id": "0000000000000000000000000000000000000000000000000000000000000000"}]
	}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Validation, ctrerr.KindOf(err))
}

func TestLoadConfigAcceptsWellFormedConfig(t *testing.T) {
	path := writeRawConfig(t, `{
		"name": "myapp",
		"version": "v1",
		"apps": [{"name": "web", "exec": ["/bin/true"], "user": "root", "group": "root"}],
		"images": [{"id": "0000000000000000000000000000000000000000000000000000000000000000"}]
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "myapp", cfg.Name)
}
