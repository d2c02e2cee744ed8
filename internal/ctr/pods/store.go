package pods

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.podman.io/storage/pkg/fileutils"
	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/builders"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
	"github.com/glennswest/ctr/internal/ctr/images"
)

// Store is the pod runtime: pods/{active,graveyard,tmp} under a
// repository root.
type Store struct {
	repo        *bases.Repo
	images      *images.Store
	runner      bases.Runner
	log         *zap.SugaredLogger
	lockTimeout time.Duration
}

// NewStore builds a Store over repo, resolving image refs through
// imageStore.
func NewStore(repo *bases.Repo, imageStore *images.Store, runner bases.Runner, lockTimeout time.Duration) *Store {
	return &Store{repo: repo, images: imageStore, runner: runner, log: repo.Log, lockTimeout: lockTimeout}
}

func (s *Store) activeRoot() string    { return s.repo.Path("pods", "active") }
func (s *Store) graveyardRoot() string { return s.repo.Path("pods", "graveyard") }
func (s *Store) tmpRoot() string       { return s.repo.Path("pods", "tmp") }

func (s *Store) podDir(id PodID) string       { return filepath.Join(s.activeRoot(), string(id)) }
func (s *Store) graveyardDir(id PodID) string { return filepath.Join(s.graveyardRoot(), string(id)) }

func configPath(podDir string) string { return filepath.Join(podDir, "config") }
func depsDir(podDir string) string    { return filepath.Join(podDir, "deps") }

// Prepare validates configPath, resolves every image ref to a
// concrete id, creates active/<id>/{deps,upper,work,rootfs}, hard
// links each image's metadata into deps/, mounts the overlay long
// enough to generate per-app units/hostname/machine-id, then writes
// config with image refs replaced by their resolved ids.
func (s *Store) Prepare(ctx context.Context, podID PodID, cfgPath string) error {
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}
	if err := podID.Validate(); err != nil {
		return err
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	resolvedIDs := make([]images.ImageID, len(cfg.Images))
	for i, sel := range cfg.Images {
		id, err := s.images.Resolve(sel)
		if err != nil {
			return err
		}
		resolvedIDs[i] = id
	}

	scoped, err := bases.NewScopedTmp(ctx, s.tmpRoot(), s.lockTimeout)
	if err != nil {
		return err
	}
	defer scoped.Close()

	for _, dir := range []string{"deps", "upper", "work", "rootfs"} {
		if err := bases.MakeDir(filepath.Join(scoped.Path, dir), 0o750); err != nil {
			return err
		}
	}
	for _, id := range resolvedIDs {
		dst := filepath.Join(depsDir(scoped.Path), string(id))
		if err := bases.AddRef(s.images.MetadataPath(id), dst); err != nil {
			return err
		}
	}

	if err := s.populateRootfs(ctx, scoped.Path, podID, cfg, resolvedIDs); err != nil {
		return err
	}

	resolvedCfg := cfg
	resolvedCfg.Images = make([]images.Selector, len(resolvedIDs))
	for i, id := range resolvedIDs {
		resolvedCfg.Images[i] = images.ByID(id)
	}
	data, err := json.Marshal(resolvedCfg)
	if err != nil {
		return ctrerr.New(ctrerr.Validation, "", err)
	}
	if err := bases.WriteFileRoot(configPath(scoped.Path), data, 0o640); err != nil {
		return err
	}

	if err := bases.MakeDir(s.activeRoot(), 0o750); err != nil {
		return err
	}
	return scoped.Commit(s.podDir(podID))
}

// populateRootfs mounts the overlay just long enough to write the
// hostname, machine-id, and per-app unit files into it, then unmounts
// — spec.md §4.4's "generates all per-app units inside rootfs/ (after
// mounting the overlay to populate it)".
func (s *Store) populateRootfs(ctx context.Context, podDir string, podID PodID, cfg Config, imageIDs []images.ImageID) error {
	if err := mountOverlay(ctx, s.runner, s.images, podDir, imageIDs); err != nil {
		return err
	}
	defer unmountOverlay(ctx, s.runner, s.log, podDir)

	root := rootfsPath(podDir)
	hostnamePath := filepath.Join(root, "etc/hostname")
	if err := bases.WriteFileRoot(hostnamePath, []byte(podID.HostnameSuffix()+"\n"), 0o644); err != nil {
		return err
	}
	if err := builders.GenerateMachineID(root, podID.MachineID()); err != nil {
		return err
	}
	if err := builders.ClearPodAppExitStatus(root); err != nil {
		return err
	}
	for _, app := range cfg.Apps {
		if err := builders.GenerateUnitFile(root, cfg.Name, cfg.Version, toBuilderApp(app)); err != nil {
			return err
		}
	}
	return nil
}

func toBuilderApp(app AppConfig) builders.App {
	return builders.App{
		Name: app.Name, Exec: app.Exec, User: app.User, Group: app.Group,
		Type: app.Type, KillMode: app.KillMode, ServiceSection: app.ServiceSection,
	}
}

// Run prepares podID (if not already prepared) and runs it.
func (s *Store) Run(ctx context.Context, podID PodID, cfgPath string) error {
	if _, err := os.Stat(s.podDir(podID)); err != nil {
		if !os.IsNotExist(err) {
			return ctrerr.New(ctrerr.IO, s.podDir(podID), err)
		}
		if err := s.Prepare(ctx, podID, cfgPath); err != nil {
			return err
		}
	}
	return s.RunPrepared(ctx, podID)
}

// RunPrepared mounts the overlay, invokes the external supervisor
// (systemd-nspawn, whose own --bind/--bind-ro flag syntax is why
// spec.md's volume-binding argument shape matches it directly), and
// blocks until it exits; the overlay is unmounted on return regardless
// of the supervisor's exit status.
func (s *Store) RunPrepared(ctx context.Context, podID PodID) error {
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}
	podDir := s.podDir(podID)
	cfg, err := s.readConfig(podDir)
	if err != nil {
		return err
	}
	imageIDs, err := cfg.imageIDs()
	if err != nil {
		return err
	}

	if err := mountOverlay(ctx, s.runner, s.images, podDir, imageIDs); err != nil {
		return err
	}
	defer unmountOverlay(ctx, s.runner, s.log, podDir)

	args := []string{
		"--directory=" + rootfsPath(podDir),
		"--machine=" + string(podID),
		"--boot",
	}
	for _, v := range cfg.Volumes {
		args = append(args, makeBindArgument(v))
	}
	return s.runner.Run(ctx, "systemd-nspawn", args...)
}

// ExportOverlay mounts podID's overlay (if not already mounted),
// copies the composed rootfs — filtered through filterPatterns,
// rsync/gitignore-style — into a fresh image-shaped staging tree
// stamped with name/version, and tars+gzips it to outputPath: the
// result is importable directly via images.Store.Import, closing the
// loop spec.md §4.4 describes as "build an application image from a
// running container".
func (s *Store) ExportOverlay(ctx context.Context, podID PodID, name, version string, filterPatterns []string, outputPath string) error {
	if err := images.ValidateName("name", name); err != nil {
		return err
	}
	if err := images.ValidateVersion(version); err != nil {
		return err
	}

	podDir := s.podDir(podID)
	cfg, err := s.readConfig(podDir)
	if err != nil {
		return err
	}
	imageIDs, err := cfg.imageIDs()
	if err != nil {
		return err
	}

	alreadyMounted := isMounted(rootfsPath(podDir))
	if !alreadyMounted {
		if err := mountOverlay(ctx, s.runner, s.images, podDir, imageIDs); err != nil {
			return err
		}
		defer unmountOverlay(ctx, s.runner, s.log, podDir)
	}

	matcher, err := fileutils.NewPatternMatcher(filterPatterns)
	if err != nil {
		return ctrerr.Newf(ctrerr.Validation, outputPath, "malformed filter pattern: %v", err)
	}

	scoped, err := bases.NewScopedTmp(ctx, s.tmpRoot(), s.lockTimeout)
	if err != nil {
		return err
	}
	defer scoped.Close()

	meta := images.Metadata{Name: name, Version: version}
	data, err := json.Marshal(meta)
	if err != nil {
		return ctrerr.New(ctrerr.Validation, "", err)
	}
	if err := bases.WriteFileRoot(filepath.Join(scoped.Path, "metadata"), data, 0o640); err != nil {
		return err
	}
	stagedRootfs := filepath.Join(scoped.Path, "rootfs")
	if err := bases.MakeDir(stagedRootfs, 0o750); err != nil {
		return err
	}

	if err := copyFiltered(rootfsPath(podDir), stagedRootfs, matcher); err != nil {
		return err
	}

	if err := s.runner.Run(ctx, "tar", "-C", scoped.Path, "-czf", outputPath, "."); err != nil {
		return err
	}
	return nil
}

// copyFiltered walks src, copying every entry whose relative path does
// not match matcher into dst, preserving directories, regular files,
// and symlinks; a matched directory is skipped with its whole subtree.
func copyFiltered(src, dst string, matcher *fileutils.PatternMatcher) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		matched, err := matcher.Matches(rel)
		if err != nil {
			return ctrerr.New(ctrerr.Validation, rel, err)
		}
		if matched {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyRegularFile(path, target, info.Mode().Perm())
		}
	})
}

func copyRegularFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return ctrerr.New(ctrerr.IO, src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return ctrerr.New(ctrerr.IO, dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return ctrerr.New(ctrerr.IO, dst, err)
	}
	return nil
}

// isMounted reports whether path is already a mountpoint, consulting
// /proc/self/mountinfo; export-overlay tolerates being called against
// an already-running pod without double-mounting or unmounting out
// from under it.
func isMounted(path string) bool {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return false
	}
	needle := " " + path + " "
	for _, line := range splitLines(data) {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

func splitLines(data []byte) []string {
	return strings.Split(string(data), "\n")
}

// imageIDs extracts the concrete, already-resolved image ids a
// prepared pod's stored config carries.
func (c Config) imageIDs() ([]images.ImageID, error) {
	ids := make([]images.ImageID, len(c.Images))
	for i, sel := range c.Images {
		if sel.ID == nil {
			return nil, ctrerr.Newf(ctrerr.Corruption, c.Name, "stored pod config has an unresolved image selector")
		}
		ids[i] = *sel.ID
	}
	return ids, nil
}

func (s *Store) readConfig(podDir string) (Config, error) {
	data, err := os.ReadFile(configPath(podDir))
	if err != nil {
		return Config{}, ctrerr.New(ctrerr.IO, configPath(podDir), err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, ctrerr.Newf(ctrerr.Corruption, configPath(podDir), "malformed stored config: %v", err)
	}
	return cfg, nil
}

// CatConfig streams podID's stored config JSON verbatim to w —
// recovered from original_source's cmd_cat_config, which just cats
// the file.
func (s *Store) CatConfig(podID PodID, w io.Writer) error {
	f, err := os.Open(configPath(s.podDir(podID)))
	if err != nil {
		return ctrerr.New(ctrerr.IO, configPath(s.podDir(podID)), err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return ctrerr.New(ctrerr.IO, configPath(s.podDir(podID)), err)
	}
	return nil
}

// WriteGeneratedID writes a freshly generated pod id to w, backing
// `ctr pods generate-id`.
func WriteGeneratedID(w io.Writer) error {
	_, err := fmt.Fprintln(w, string(GenerateID()))
	return err
}

// AddRef hard-links podID's config to dst, the external refcount edge
// spec.md §4.4 calls for.
func (s *Store) AddRef(podID PodID, dst string) error {
	return bases.AddRef(configPath(s.podDir(podID)), dst)
}

// Remove atomically moves active/<podID> to graveyard/<podID> and
// best-effort unmounts.
func (s *Store) Remove(ctx context.Context, podID PodID) error {
	podDir := s.podDir(podID)
	if _, err := os.Stat(podDir); err != nil {
		if os.IsNotExist(err) {
			return ctrerr.Newf(ctrerr.NotFound, string(podID), "no active pod %q", podID)
		}
		return ctrerr.New(ctrerr.IO, podDir, err)
	}
	unmountOverlay(ctx, s.runner, s.log, podDir)
	if err := bases.MakeDir(s.graveyardRoot(), 0o750); err != nil {
		return err
	}
	if err := os.Rename(podDir, s.graveyardDir(podID)); err != nil {
		return ctrerr.New(ctrerr.IO, podDir, err)
	}
	return nil
}

// Cleanup reclaims graveyard/ entries and tmp/ entries older than
// grace. Every step is a rename, an unlink, or an rm -rf on a
// directory already tombstoned by being under graveyard/ or tmp/, so
// an interrupted cleanup can always resume safely.
func (s *Store) Cleanup(ctx context.Context, grace time.Duration) error {
	if err := s.cleanupGraveyard(ctx, grace); err != nil {
		return err
	}
	return s.cleanupTmp(ctx, grace)
}

func (s *Store) cleanupGraveyard(ctx context.Context, grace time.Duration) error {
	entries, err := os.ReadDir(s.graveyardRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, s.graveyardRoot(), err)
	}
	for _, e := range entries {
		dir := filepath.Join(s.graveyardRoot(), e.Name())
		old, err := bases.IsOldEnough(dir, grace)
		if err != nil || !old {
			continue
		}
		unmountOverlay(ctx, s.runner, s.log, dir)
		deps, err := os.ReadDir(depsDir(dir))
		if err == nil {
			for _, d := range deps {
				_ = bases.RemoveRef(filepath.Join(depsDir(dir), d.Name()))
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			return ctrerr.New(ctrerr.IO, dir, err)
		}
		s.log.Infow("pod reclaimed by cleanup", "pod_id", e.Name())
	}
	return nil
}

func (s *Store) cleanupTmp(ctx context.Context, grace time.Duration) error {
	entries, err := os.ReadDir(s.tmpRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ctrerr.New(ctrerr.IO, s.tmpRoot(), err)
	}
	for _, e := range entries {
		dir := filepath.Join(s.tmpRoot(), e.Name())
		old, err := bases.IsOldEnough(dir, grace)
		if err != nil || !old {
			continue
		}
		lock, err := bases.NewLock(dir)
		if err != nil {
			continue
		}
		if !lock.TryAcquire() {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			lock.Release()
			return ctrerr.New(ctrerr.IO, dir, err)
		}
		lock.Release()
	}
	return nil
}

// ListEntry is one row of Store.List's output.
type ListEntry struct {
	ID      PodID
	Name    string
	Version string
	MTime   time.Time
	Active  bool
}

// List returns every pod under active/ and graveyard/.
func (s *Store) List() ([]ListEntry, error) {
	var out []ListEntry
	for _, root := range []struct {
		dir    string
		active bool
	}{{s.activeRoot(), true}, {s.graveyardRoot(), false}} {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, ctrerr.New(ctrerr.IO, root.dir, err)
		}
		for _, e := range entries {
			podDir := filepath.Join(root.dir, e.Name())
			cfg, err := s.readConfig(podDir)
			if err != nil {
				s.log.Warnw("skipping pod with unreadable config", "pod_id", e.Name(), "error", err)
				continue
			}
			info, err := os.Stat(podDir)
			if err != nil {
				continue
			}
			out = append(out, ListEntry{
				ID: PodID(e.Name()), Name: cfg.Name, Version: cfg.Version,
				MTime: info.ModTime(), Active: root.active,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MTime.Before(out[j].MTime) })
	return out, nil
}

// AppStatus is one row of Store.Show's output.
type AppStatus struct {
	Name         string
	LastExit     *int
	LastExitTime *time.Time
}

// Show returns per-app exit status for podID.
func (s *Store) Show(podID PodID) ([]AppStatus, error) {
	podDir := s.podDir(podID)
	cfg, err := s.readConfig(podDir)
	if err != nil {
		return nil, err
	}
	out := make([]AppStatus, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		code, mtime, ok, err := builders.GetPodAppExitStatus(rootfsPath(podDir), toBuilderApp(app))
		if err != nil {
			return nil, err
		}
		entry := AppStatus{Name: app.Name}
		if ok {
			entry.LastExit = &code
			entry.LastExitTime = &mtime
		}
		out = append(out, entry)
	}
	return out, nil
}
