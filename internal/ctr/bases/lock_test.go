package bases

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExclusiveExcludesShared(t *testing.T) {
	dir := t.TempDir()

	l1, err := NewLock(dir)
	require.NoError(t, err)
	require.NoError(t, l1.Acquire(context.Background(), 0))
	defer l1.Release()

	l2, err := NewLock(dir)
	require.NoError(t, err)
	assert.False(t, l2.TryAcquireShared(), "shared lock should not be grantable while exclusive lock is held")
}

func TestLockTimeoutReturnsBusy(t *testing.T) {
	dir := t.TempDir()

	l1, err := NewLock(dir)
	require.NoError(t, err)
	require.NoError(t, l1.Acquire(context.Background(), 0))
	defer l1.Release()

	l2, err := NewLock(dir)
	require.NoError(t, err)
	start := time.Now()
	err = l2.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestScopedTmpCommitAndRollback(t *testing.T) {
	root := t.TempDir()
	tmpRoot := root + "/tmp"

	st, err := NewScopedTmp(context.Background(), tmpRoot, 0)
	require.NoError(t, err)
	dst := root + "/final"
	require.NoError(t, st.Commit(dst))
	st.Close()

	_, statErr := os.Stat(dst)
	require.NoError(t, statErr)
	_, lockStatErr := os.Stat(dst + "/.lock")
	assert.Error(t, lockStatErr, "lock sentinel should be cleaned up after commit")

	st2, err := NewScopedTmp(context.Background(), tmpRoot, 0)
	require.NoError(t, err)
	path := st2.Path
	st2.Close()
	_, err = os.Stat(path)
	assert.Error(t, err, "uncommitted scoped tmp dir should be rolled back on Close")
}
