package builders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func fakeDebootstrappedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name := range baseUnits {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/systemd/system"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "etc/systemd/system", name), []byte("[Unit]\n"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/lib/systemd/system"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/hostname"), []byte("x\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr/sbin"), 0o755))
	return root
}

func TestSetupBaseRootfsRequiresRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; privilege check can't be exercised")
	}
	root := fakeDebootstrappedTree(t)
	err := SetupBaseRootfs(root, nil)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Permission, ctrerr.KindOf(err))
}

func TestSetupBaseRootfsProducesUnitGraphAndPodExit(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root privilege to chown")
	}
	root := fakeDebootstrappedTree(t)
	require.NoError(t, SetupBaseRootfs(root, nil))

	_, err := os.Stat(filepath.Join(root, "usr/sbin/pod-exit"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "usr/lib/systemd/system/pod.target"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "etc/hostname"))
	assert.True(t, os.IsNotExist(err), "identity files must be removed")

	for name := range baseUnits {
		_, err := os.Stat(filepath.Join(root, "etc/systemd/system", name))
		assert.NoError(t, err, "base unit %q must survive setup", name)
	}
}
