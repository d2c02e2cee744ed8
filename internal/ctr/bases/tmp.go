package bases

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// ScopedTmp is a freshly created, exclusively locked directory under a
// sub-repo's tmp/ root. The creator populates it, then either Commits
// it (atomic rename to a final destination) or Rollback()s it (remove
// the subtree). Rollback also runs if the caller never commits —
// Close is the single release point for every exit path, including a
// panic, the same guarantee spec.md §9 asks every scoped resource to
// provide.
type ScopedTmp struct {
	Path      string
	lock      *Lock
	committed bool
	finalPath string
}

// NewScopedTmp creates a new randomly named directory under tmpRoot,
// locks it exclusively, and returns a handle. Call Close (typically
// via defer) to guarantee rollback on every path that doesn't Commit.
func NewScopedTmp(ctx context.Context, tmpRoot string, timeout time.Duration) (*ScopedTmp, error) {
	if err := MakeDir(tmpRoot, dirModeDefault); err != nil {
		return nil, err
	}
	path := filepath.Join(tmpRoot, uuid.New().String())
	if err := MakeDir(path, dirModeDefault); err != nil {
		return nil, err
	}
	lock, err := NewLock(path)
	if err != nil {
		os.RemoveAll(path)
		return nil, err
	}
	if err := lock.Acquire(ctx, timeout); err != nil {
		os.RemoveAll(path)
		return nil, err
	}
	return &ScopedTmp{Path: path, lock: lock}, nil
}

// Commit renames the scoped tmp dir into its final destination. dst's
// parent directory must already exist. After Commit, Close is a no-op
// with respect to the filesystem (the directory no longer exists at
// Path).
func (t *ScopedTmp) Commit(dst string) error {
	if err := os.Rename(t.Path, dst); err != nil {
		return ctrerr.New(ctrerr.IO, dst, err)
	}
	t.committed = true
	t.finalPath = dst
	return nil
}

// Rollback removes the scoped tmp dir's subtree. Safe to call more
// than once.
func (t *ScopedTmp) Rollback() error {
	if t.committed {
		return nil
	}
	if err := os.RemoveAll(t.Path); err != nil {
		return ctrerr.New(ctrerr.IO, t.Path, err)
	}
	return nil
}

// Close releases the lock and, if the caller never Committed, rolls
// back; if the caller did Commit, it removes the now-orphaned lock
// sentinel from the committed directory (the open file descriptor the
// lock holds stays valid across the rename, so the lock is held until
// this runs). Defer this immediately after NewScopedTmp succeeds.
func (t *ScopedTmp) Close() {
	defer t.lock.Release()
	if !t.committed {
		_ = t.Rollback()
		return
	}
	_ = os.Remove(filepath.Join(t.finalPath, ".lock"))
}
