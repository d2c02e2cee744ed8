package bases

import (
	"os"
	"syscall"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// AddRef creates a hard link from src (an image's "metadata" file) to
// dst, the reference-counting edge spec.md §4.1 calls for: no separate
// bookkeeping file, the link count on src is the ref count. dst's
// parent directory must already exist.
func AddRef(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return ctrerr.New(ctrerr.IO, dst, err)
	}
	return nil
}

// RemoveRef drops a reference edge created by AddRef. Idempotent: a
// missing dst is not an error.
func RemoveRef(dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return ctrerr.New(ctrerr.IO, dst, err)
	}
	return nil
}

// RefCount reads src's hard link count.
func RefCount(src string) (uint64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, ctrerr.New(ctrerr.IO, src, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, ctrerr.Newf(ctrerr.IO, src, "cannot read link count on this platform")
	}
	return uint64(stat.Nlink), nil
}
