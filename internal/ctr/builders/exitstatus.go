package builders

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func podAppExitStatusDir(rootPath string) string {
	return filepath.Join(rootPath, "var/lib/pod/exit-status")
}

func podAppExitStatusPath(rootPath string, app App) string {
	return filepath.Join(podAppExitStatusDir(rootPath), UnitFilename(app))
}

// ClearPodAppExitStatus empties var/lib/pod/exit-status/, used by
// pods.Prepare when re-preparing a pod into an already-used rootfs
// stash — plain hygiene the original does that spec.md's prose omits
// as an implementation detail of crash-safe partial-failure handling.
func ClearPodAppExitStatus(rootPath string) error {
	dir := podAppExitStatusDir(rootPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	}
	return nil
}

// GetPodAppExitStatus reads app's recorded exit status and the time
// pod-exit recorded it. ok is false if no status has been recorded
// yet.
func GetPodAppExitStatus(rootPath string, app App) (code int, recordedAt time.Time, ok bool, err error) {
	path := podAppExitStatusPath(rootPath, app)
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return 0, time.Time{}, false, nil
		}
		return 0, time.Time{}, false, ctrerr.New(ctrerr.IO, path, statErr)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, false, ctrerr.New(ctrerr.IO, path, err)
	}
	code, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, time.Time{}, false, ctrerr.Newf(ctrerr.Corruption, path, "malformed exit status: %v", err)
	}
	return code, info.ModTime(), true, nil
}
