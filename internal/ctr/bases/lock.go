package bases

import (
	"context"
	"path/filepath"
	"time"

	"go.podman.io/storage/pkg/lockfile"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// lockPollInterval is how often a blocking Acquire retries TryLock
// while waiting for a contended lock to free up.
const lockPollInterval = 20 * time.Millisecond

// Lock is an advisory lock on a directory: it pins the lock file at
// "<dir>/.lock" rather than on dir itself, so taking the lock never
// interacts with a rename of dir. lockfile.LockFile (from
// go.podman.io/storage, the upstream containers/storage project) does
// the actual flock(2)-style locking and the process-local
// acquire/release bookkeeping; Lock adds the one thing that package
// doesn't provide — a blocking acquire with an optional timeout.
type Lock struct {
	file *lockfile.LockFile
	dir  string
}

// NewLock returns the lock guarding dir. Opening it does not acquire
// it and does not require dir to exist yet — the lock file's parent
// directory is created on first use if necessary, same as
// lockfile.GetLockFile does internally.
//
// This always opens the read-write form of the underlying lockfile,
// even for callers that only ever take the shared lock: lockfile
// caches one *LockFile per path per process and refuses to hand out
// both a read-write and a read-only handle for the same path, so a
// process that both reads and writes the same directory (which every
// component here does — list takes a shared lock, remove takes an
// exclusive one) must share a single read-write handle and choose
// Lock()/RLock() per call instead.
func NewLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, ".lock")
	lf, err := lockfile.GetLockFile(path)
	if err != nil {
		return nil, ctrerr.New(ctrerr.IO, path, err)
	}
	return &Lock{file: lf, dir: dir}, nil
}

// Acquire blocks until the exclusive lock is held, ctx is done, or
// timeout elapses (zero means no timeout). It returns a Busy error on
// timeout or context cancellation, and performs no other side effect.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, false)
}

// AcquireShared is Acquire's shared-lock counterpart.
func (l *Lock) AcquireShared(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, true)
}

func (l *Lock) acquire(ctx context.Context, timeout time.Duration, shared bool) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	try := func() error {
		if shared {
			return l.file.TryRLock()
		}
		return l.file.TryLock()
	}

	if err := try(); err == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctrerr.New(ctrerr.Busy, l.dir, ctx.Err())
		case <-deadline:
			return ctrerr.Newf(ctrerr.Busy, l.dir, "timed out waiting for lock")
		case <-ticker.C:
			if err := try(); err == nil {
				return nil
			}
		}
	}
}

// TryAcquire is the non-blocking variant: it returns whether the
// exclusive lock was acquired.
func (l *Lock) TryAcquire() bool {
	return l.file.TryLock() == nil
}

// TryAcquireShared is TryAcquire's shared-lock counterpart.
func (l *Lock) TryAcquireShared() bool {
	return l.file.TryRLock() == nil
}

// Release drops the lock. It is safe to call only when this Lock (or
// another Lock in the same process sharing the same path) currently
// holds it.
func (l *Lock) Release() {
	l.file.Unlock()
}

// WithLock acquires the exclusive lock, runs fn, and releases the lock
// on every exit path, including a panic in fn.
func WithLock(ctx context.Context, dir string, timeout time.Duration, fn func() error) error {
	l, err := NewLock(dir)
	if err != nil {
		return err
	}
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// WithSharedLock is WithLock's shared-lock counterpart.
func WithSharedLock(ctx context.Context, dir string, timeout time.Duration, fn func() error) error {
	l, err := NewLock(dir)
	if err != nil {
		return err
	}
	if err := l.AcquireShared(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
