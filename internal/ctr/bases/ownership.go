package bases

import (
	"os"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// ChownRoot sets path's owner to root:root (uid/gid 0). Every file and
// directory created inside the repo goes through this, except the
// rootfs interior, which preserves whatever the image contains.
func ChownRoot(path string) error {
	if err := os.Chown(path, 0, 0); err != nil {
		if os.IsPermission(err) {
			return ctrerr.New(ctrerr.Permission, path, err)
		}
		return ctrerr.New(ctrerr.IO, path, err)
	}
	return nil
}

// MakeDir creates path (and parents) with mode, then chowns it to
// root:root. Idempotent: it is not an error for path to already exist.
func MakeDir(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	// MkdirAll does not reset mode on an already-existing directory;
	// do it explicitly so repeated Init calls stay idempotent even if
	// an operator loosened permissions by hand.
	if err := os.Chmod(path, mode); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	return ChownRoot(path)
}

// WriteFileRoot writes data to path with mode and chowns it to
// root:root.
func WriteFileRoot(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	return ChownRoot(path)
}

// AssertRootPrivilege fails mutating operations that require EUID 0.
func AssertRootPrivilege() error {
	if os.Geteuid() != 0 {
		return ctrerr.Newf(ctrerr.Permission, "", "this operation requires root privilege")
	}
	return nil
}
