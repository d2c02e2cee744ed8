package pods

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/images"
)

func upperPath(podDir string) string  { return filepath.Join(podDir, "upper") }
func workPath(podDir string) string   { return filepath.Join(podDir, "work") }
func rootfsPath(podDir string) string { return filepath.Join(podDir, "rootfs") }

// lowerDirOption renders the overlay lowerdir= value for an ordered
// (deepest-first) list of image rootfs paths: OverlayFS wants the
// topmost layer listed first, so the list is reversed. Grounded
// byte-for-byte on original_source's test_pods.py::test_mount_overlay.
func lowerDirOption(rootfsPaths []string) string {
	reversed := make([]string, len(rootfsPaths))
	for i, p := range rootfsPaths {
		reversed[len(rootfsPaths)-1-i] = p
	}
	return strings.Join(reversed, ":")
}

// mountOverlay composes podDir's overlay from imageIDs (deepest-first)
// and mounts it at rootfsPath(podDir). The exact argv shape — a
// single joined "-o lowerdir=...,upperdir=...,workdir=..." option,
// not separate flags — is pinned by test_mount_overlay.
func mountOverlay(ctx context.Context, runner bases.Runner, imageStore *images.Store, podDir string, imageIDs []images.ImageID) error {
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}
	rootfsPaths := make([]string, len(imageIDs))
	for i, id := range imageIDs {
		rootfsPaths[i] = imageStore.RootfsPath(id)
	}
	option := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		lowerDirOption(rootfsPaths), upperPath(podDir), workPath(podDir))
	return runner.Run(ctx, "mount", "-t", "overlay", "-o", option, "overlay", rootfsPath(podDir))
}

// unmountOverlay is best-effort: spec.md §4.4 requires tolerating
// "not a mountpoint" rather than treating it as failure, since cleanup
// may retry an unmount that already happened.
func unmountOverlay(ctx context.Context, runner bases.Runner, log *zap.SugaredLogger, podDir string) {
	if err := runner.Run(ctx, "umount", rootfsPath(podDir)); err != nil {
		log.Debugw("unmount failed (tolerated, best-effort)", "path", rootfsPath(podDir), "error", err)
	}
}

// makeBindArgument renders a volume as a supervisor --bind argument.
func makeBindArgument(v Volume) string {
	flag := "--bind"
	if v.ReadOnly {
		flag = "--bind-ro"
	}
	return fmt.Sprintf("%s=%s:%s", flag, v.Source, v.Target)
}
