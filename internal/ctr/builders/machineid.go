package builders

import (
	"os"
	"path/filepath"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// GenerateMachineID writes rootPath/etc/machine-id (mode 0444) and
// rootPath/var/lib/dbus/machine-id (mode 0644), both root-owned. The
// dual file, dual mode detail isn't in spec.md's prose (only "derived
// from the pod id") — it comes from original_source.
func GenerateMachineID(rootPath, machineID string) error {
	content := []byte(machineID + "\n")
	targets := []struct {
		rel  string
		mode os.FileMode
	}{
		{"etc/machine-id", 0o444},
		{"var/lib/dbus/machine-id", 0o644},
	}
	for _, t := range targets {
		path := filepath.Join(rootPath, t.rel)
		if err := os.WriteFile(path, content, t.mode); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
		// os.WriteFile applies mode only on creation; force it so a
		// re-run onto an existing file still lands at the right mode.
		if err := os.Chmod(path, t.mode); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
		if err := bases.ChownRoot(path); err != nil {
			return err
		}
	}
	return nil
}
