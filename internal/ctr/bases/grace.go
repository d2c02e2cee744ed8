package bases

import (
	"os"
	"time"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// DefaultGracePeriod is the grace period applied when no --grace flag
// or CTR_GRACE_PERIOD env var overrides it.
const DefaultGracePeriod = 8 * time.Hour

// IsOldEnough reports whether path's mtime is older than now-grace. A
// grace of zero reclaims everything not currently locked.
func IsOldEnough(path string, grace time.Duration) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ctrerr.New(ctrerr.IO, path, err)
	}
	return info.ModTime().Before(time.Now().Add(-grace)), nil
}
