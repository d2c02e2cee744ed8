package builders

import (
	"context"
	"os"
	"path/filepath"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// BaseImageReleaseCodeName is the distro release debootstrap
// installs. Fixed at build time, not configurable, matching
// original_source's models.BASE_IMAGE_RELEASE_CODE_NAME.
const BaseImageReleaseCodeName = "focal"

const debootstrapMirror = "http://us.archive.ubuntu.com/ubuntu/"

// PrepareBaseRootfs invokes debootstrap into rootfsPath, which must
// not already exist. dbus is installed for `machinectl shell`
// convenience, sudo for per-app user/group switching, tzdata for
// /etc/localtime.
func PrepareBaseRootfs(ctx context.Context, runner bases.Runner, rootfsPath string) error {
	if _, err := os.Stat(rootfsPath); err == nil {
		return ctrerr.Newf(ctrerr.Validation, rootfsPath, "rootfs path already exists")
	} else if !os.IsNotExist(err) {
		return ctrerr.New(ctrerr.IO, rootfsPath, err)
	}
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}
	return runner.Run(ctx, "debootstrap",
		"--variant=minbase",
		"--components=main",
		"--include=dbus,sudo,systemd,tzdata",
		BaseImageReleaseCodeName,
		rootfsPath,
		debootstrapMirror,
	)
}

// SetupBaseRootfs performs the deterministic mutations that turn a
// freshly debootstrapped tree into a base image: pruning, per-host
// identity removal, fixed config replacement, the unit-file allow-list
// and project unit graph, and pod-exit installation. Idempotent on a
// freshly bootstrapped tree. pruneStashPath, if non-nil, receives the
// pruned directories' content instead of having it deleted outright.
func SetupBaseRootfs(rootfsPath string, pruneStashPath *string) error {
	info, err := os.Stat(rootfsPath)
	if err != nil || !info.IsDir() {
		return ctrerr.Newf(ctrerr.Validation, rootfsPath, "rootfs path must be an existing directory")
	}
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}

	if err := cleanupUnneededFiles(rootfsPath, pruneStashPath); err != nil {
		return err
	}
	if err := removeConfigFiles(rootfsPath); err != nil {
		return err
	}
	if err := replaceConfigFiles(rootfsPath); err != nil {
		return err
	}
	if err := setupUnitFiles(rootfsPath); err != nil {
		return err
	}
	return setupPodExit(rootfsPath)
}

var prunedDirs = []string{
	"usr/share/doc",
	"usr/share/info",
	"usr/share/man",
	"var/cache",
	"var/lib/apt",
	"var/lib/dpkg",
}

func cleanupUnneededFiles(rootfsPath string, pruneStashPath *string) error {
	for _, rel := range prunedDirs {
		dir := filepath.Join(rootfsPath, rel)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return ctrerr.New(ctrerr.IO, dir, err)
		}
		if !info.IsDir() {
			continue
		}
		if pruneStashPath != nil {
			dst := filepath.Join(*pruneStashPath, rel)
			if _, err := os.Lstat(dst); err == nil {
				return ctrerr.Newf(ctrerr.Conflict, dst, "stash destination already exists")
			}
			if err := bases.MakeDir(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := os.Rename(dir, dst); err != nil {
				return ctrerr.New(ctrerr.IO, dst, err)
			}
		} else {
			if err := os.RemoveAll(dir); err != nil {
				return ctrerr.New(ctrerr.IO, dir, err)
			}
			if err := os.MkdirAll(dir, info.Mode().Perm()); err != nil {
				return ctrerr.New(ctrerr.IO, dir, err)
			}
		}
	}
	return nil
}

var identityFiles = []string{
	"etc/hostname",
	"etc/machine-id",
	"var/lib/dbus/machine-id",
	"etc/resolv.conf",
	"run/systemd/resolve/stub-resolv.conf",
}

func removeConfigFiles(rootfsPath string) error {
	for _, rel := range identityFiles {
		path := filepath.Join(rootfsPath, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	}
	return nil
}

func replaceConfigFiles(rootfsPath string) error {
	replacements := []struct{ rel, content string }{
		{"etc/default/locale", localeConf},
		{"etc/resolv.conf", resolvConf},
		{"etc/systemd/journald.conf", journaldConf},
	}
	for _, r := range replacements {
		path := filepath.Join(rootfsPath, r.rel)
		if err := bases.MakeDir(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(r.content), 0o644); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	}
	return nil
}

func setupUnitFiles(rootfsPath string) error {
	remaining := make(map[string]bool, len(baseUnits))
	for name := range baseUnits {
		remaining[name] = true
	}
	for _, rel := range []string{"etc/systemd/system", "usr/lib/systemd/system"} {
		dir := filepath.Join(rootfsPath, rel)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := cleanupUnitFiles(dir, remaining); err != nil {
			return err
		}
	}
	if len(remaining) != 0 {
		names := make([]string, 0, len(remaining))
		for n := range remaining {
			names = append(names, n)
		}
		return ctrerr.Newf(ctrerr.Corruption, rootfsPath, "base units missing from debootstrapped tree: %v", names)
	}
	return createUnitFiles(rootfsPath)
}

func cleanupUnitFiles(dir string, remaining map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ctrerr.New(ctrerr.IO, dir, err)
	}
	for _, e := range entries {
		if baseUnits[e.Name()] {
			delete(remaining, e.Name())
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	}
	return nil
}

func createUnitFiles(rootfsPath string) error {
	groups := []struct {
		dir   string
		files []unitFile
	}{
		{filepath.Join(rootfsPath, "etc/systemd/system"), etcUnitFiles},
		{filepath.Join(rootfsPath, "usr/lib/systemd/system"), libUnitFiles},
	}
	for _, g := range groups {
		if info, err := os.Stat(g.dir); err != nil || !info.IsDir() {
			return ctrerr.Newf(ctrerr.Corruption, g.dir, "unit directory missing from debootstrapped tree")
		}
		for _, uf := range g.files {
			if err := createUnitFile(filepath.Join(g.dir, uf.relpath), uf); err != nil {
				return err
			}
		}
	}
	return nil
}

func createUnitFile(path string, uf unitFile) error {
	switch uf.kind {
	case dirKind:
		if err := os.Mkdir(path, 0o755); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	case fileKind:
		if err := os.WriteFile(path, []byte(uf.content), 0o644); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	case symlinkKind:
		if err := os.Symlink(uf.content, path); err != nil {
			return ctrerr.New(ctrerr.IO, path, err)
		}
	}
	return bases.ChownRoot(path)
}

func setupPodExit(rootfsPath string) error {
	path := filepath.Join(rootfsPath, "usr/sbin/pod-exit")
	if err := os.WriteFile(path, []byte(podExitScript), 0o755); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	if err := bases.ChownRoot(path); err != nil {
		return err
	}
	if err := bases.MakeDir(filepath.Join(rootfsPath, "var/lib/pod"), 0o755); err != nil {
		return err
	}
	return bases.MakeDir(filepath.Join(rootfsPath, "var/lib/pod/exit-status"), 0o755)
}
