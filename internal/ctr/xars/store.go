package xars

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
	"github.com/glennswest/ctr/internal/ctr/images"
)

// Store is the xar installer: xars/<name>/{deps,exec} under a
// repository root, plus a shim script placed on a configured host
// PATH directory.
type Store struct {
	repo        *bases.Repo
	images      *images.Store
	log         *zap.SugaredLogger
	scriptDir   string
	lockTimeout time.Duration
}

// NewStore builds a Store. scriptDir is where shim scripts are placed
// (spec.md's CTR_XAR_SCRIPT_DIR / --xar-script-dir).
func NewStore(repo *bases.Repo, imageStore *images.Store, scriptDir string, lockTimeout time.Duration) *Store {
	return &Store{repo: repo, images: imageStore, log: repo.Log, scriptDir: scriptDir, lockTimeout: lockTimeout}
}

func (s *Store) xarDir(name Name) string     { return filepath.Join(s.repo.XarsRoot(), string(name)) }
func depsDir(xarDir string) string           { return filepath.Join(xarDir, "deps") }
func execPath(xarDir string) string          { return filepath.Join(xarDir, "exec") }
func (s *Store) scriptPath(name Name) string { return filepath.Join(s.scriptDir, string(name)) }

// depEntryDir and depRefPath locate a dep's own lockable directory:
// deps/<id>/ is a directory (not the hard link itself), so it can be
// locked through bases.Lock the same way every other locked location
// in this core is — a directory holding a ".lock" sentinel — and
// deps/<id>/ref is the hard link into the image's metadata.
func depEntryDir(xarDir string, id images.ImageID) string {
	return filepath.Join(depsDir(xarDir), string(id))
}
func depRefPath(xarDir string, id images.ImageID) string {
	return filepath.Join(depEntryDir(xarDir, id), "ref")
}

// Install resolves imageRef to an image id, ensures a deps/<id> hard
// link, atomically replaces exec with a symlink into that image's
// rootfs, and ensures a shim script exists on scriptDir — spec.md
// §4.5's install operation.
func (s *Store) Install(ctx context.Context, imageRef images.Selector, name Name, execRelpath string) error {
	if err := name.Validate(); err != nil {
		return err
	}
	if filepath.IsAbs(execRelpath) {
		return ctrerr.Newf(ctrerr.Validation, execRelpath, "exec relpath must be relative")
	}
	id, err := s.images.Resolve(imageRef)
	if err != nil {
		return err
	}

	dir := s.xarDir(name)
	if err := bases.MakeDir(dir, 0o750); err != nil {
		return err
	}
	if err := bases.MakeDir(depsDir(dir), 0o750); err != nil {
		return err
	}

	if err := bases.MakeDir(depEntryDir(dir, id), 0o750); err != nil {
		return err
	}
	if err := ensureRef(s.images.MetadataPath(id), depRefPath(dir, id)); err != nil {
		return err
	}

	target := filepath.Join("..", "..", "images", "trees", string(id), "rootfs", execRelpath)
	if err := replaceSymlink(execPath(dir), target); err != nil {
		return err
	}

	return s.ensureScript(name)
}

// ensureRef hard-links src to dst unless dst already exists, the
// idempotent "ensure a hard link" spec.md's install step 2 calls for.
func ensureRef(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return nil
	}
	return bases.AddRef(src, dst)
}

// replaceSymlink atomically replaces path with a symlink to target,
// writing a temporary symlink then renaming it over the old one so
// readers never observe a missing exec.
func replaceSymlink(path, target string) error {
	tmp := path + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	return nil
}

// shimScript is the runner script content installed on scriptDir: it
// re-invokes this binary in "xars exec" mode, the behavior
// test_xars.py's cmd_exec/runner-script pairing describes.
func shimScript(name Name) string {
	return "#!/bin/sh\nexec ctr xars exec " + string(name) + " \"$@\"\n"
}

// ensureScript writes scriptDir/<name> if it is missing or its
// content differs from the expected shim — spec.md's install step 4
// "replaced only if missing or different".
func (s *Store) ensureScript(name Name) error {
	path := s.scriptPath(name)
	content := []byte(shimScript(name))
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == string(content) {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	if err := bases.MakeDir(s.scriptDir, 0o750); err != nil {
		return err
	}
	return bases.WriteFileRoot(path, content, 0o750)
}

// Exec resolves name's exec symlink, extracts the image id it points
// into, takes a shared lock on that image's deps entry to block a
// concurrent uninstall, and execve(2)s the resolved path — replacing
// the current process, never returning on success. This is the one
// place in the core that calls syscall.Exec rather than going through
// bases.Runner: spec.md §4.5 requires true process replacement, not a
// waited-for child.
func (s *Store) Exec(ctx context.Context, name Name, argv []string) error {
	if err := name.Validate(); err != nil {
		return err
	}
	dir := s.xarDir(name)
	resolved, id, err := resolveExec(dir)
	if err != nil {
		return err
	}

	lock, err := bases.NewLock(depEntryDir(dir, id))
	if err != nil {
		return err
	}
	if err := lock.AcquireShared(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer lock.Release()

	if _, err := os.Stat(resolved); err != nil {
		return ctrerr.Newf(ctrerr.NotFound, resolved, "xar %q's resolved executable is missing: %v", name, err)
	}

	fullArgv := append([]string{string(name)}, argv...)
	if err := syscall.Exec(resolved, fullArgv, os.Environ()); err != nil {
		return ctrerr.New(ctrerr.External, resolved, err)
	}
	return nil
}

var treesPathPattern = regexp.MustCompile(`images/trees/([0-9a-f]{64})/rootfs/`)

// resolveExec reads xarDir/exec, resolves it to an absolute path, and
// extracts the image id segment from "images/trees/<id>/rootfs/...".
func resolveExec(xarDir string) (resolved string, id images.ImageID, err error) {
	linkPath := execPath(xarDir)
	target, readErr := os.Readlink(linkPath)
	if readErr != nil {
		return "", "", ctrerr.Newf(ctrerr.NotFound, linkPath, "xar has no exec symlink: %v", readErr)
	}
	abs := filepath.Clean(filepath.Join(xarDir, target))
	m := treesPathPattern.FindStringSubmatch(filepath.ToSlash(abs))
	if m == nil {
		return "", "", ctrerr.Newf(ctrerr.Corruption, abs, "exec symlink does not point into an image rootfs")
	}
	return abs, images.ImageID(m[1]), nil
}

// Uninstall removes name's exec symlink and shim script, then drops
// every deps/<id> entry whose lock it can acquire exclusively
// (meaning no exec is in flight); entries that are busy are left for
// Cleanup. If deps/ ends up empty, the xar directory itself is
// removed.
func (s *Store) Uninstall(ctx context.Context, name Name) error {
	if err := name.Validate(); err != nil {
		return err
	}
	dir := s.xarDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	os.Remove(execPath(dir))
	os.Remove(s.scriptPath(name))

	return s.reclaimDeps(dir)
}

// reclaimDeps drops every deps/<id>/ entry whose lock can be acquired
// without blocking (removing both the ref hard link and the entry
// directory), then removes dir if deps/ ends up empty.
func (s *Store) reclaimDeps(dir string) error {
	entries, err := os.ReadDir(depsDir(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, depsDir(dir), err)
	}
	remaining := 0
	for _, e := range entries {
		entryDir := filepath.Join(depsDir(dir), e.Name())
		lock, err := bases.NewLock(entryDir)
		if err != nil {
			remaining++
			continue
		}
		if !lock.TryAcquire() {
			remaining++
			continue
		}
		if err := bases.RemoveRef(filepath.Join(entryDir, "ref")); err != nil {
			lock.Release()
			return err
		}
		lock.Release()
		if err := os.RemoveAll(entryDir); err != nil {
			return ctrerr.New(ctrerr.IO, entryDir, err)
		}
	}
	if remaining == 0 {
		if err := os.RemoveAll(dir); err != nil {
			return ctrerr.New(ctrerr.IO, dir, err)
		}
	}
	return nil
}

// Cleanup scans xars/ for directories with no exec symlink and
// attempts to finish their uninstall, and removes orphan shim scripts
// whose matching xar directory is gone.
func (s *Store) Cleanup(ctx context.Context) error {
	entries, err := os.ReadDir(s.repo.XarsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, s.repo.XarsRoot(), err)
	}
	live := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		live[e.Name()] = true
		dir := filepath.Join(s.repo.XarsRoot(), e.Name())
		if _, err := os.Lstat(execPath(dir)); os.IsNotExist(err) {
			if err := s.reclaimDeps(dir); err != nil {
				return err
			}
		}
	}

	scriptEntries, err := os.ReadDir(s.scriptDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, s.scriptDir, err)
	}
	for _, e := range scriptEntries {
		if live[e.Name()] {
			continue
		}
		path := filepath.Join(s.scriptDir, e.Name())
		if data, err := os.ReadFile(path); err == nil && string(data) == shimScript(Name(e.Name())) {
			os.Remove(path)
		}
	}
	return nil
}

// List returns every installed xar that has an exec symlink into an
// image rootfs, with its image id and exec relpath, sorted by name.
func (s *Store) List() ([]ListEntry, error) {
	entries, err := os.ReadDir(s.repo.XarsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ctrerr.New(ctrerr.IO, s.repo.XarsRoot(), err)
	}
	var out []ListEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := Name(e.Name())
		dir := s.xarDir(name)
		target, err := os.Readlink(execPath(dir))
		if err != nil {
			continue
		}
		abs := filepath.Clean(filepath.Join(dir, target))
		m := treesPathPattern.FindStringSubmatch(filepath.ToSlash(abs))
		if m == nil {
			continue
		}
		id := images.ImageID(m[1])
		rel, err := filepath.Rel(s.images.RootfsPath(id), abs)
		if err != nil {
			continue
		}
		out = append(out, ListEntry{Name: name, ImageID: id, ExecRelpath: rel})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
