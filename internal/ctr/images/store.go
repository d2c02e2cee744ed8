package images

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// Store is the content-addressed image store: images/{trees,tags,tmp}
// under a repository root. It generalizes the teacher's
// pkg/registry/store.BlobStore — same content-address-as-path idea,
// replumbed from OCI blobs+manifests onto image trees+tags.
type Store struct {
	repo        *bases.Repo
	log         *zap.SugaredLogger
	runner      bases.Runner
	lockTimeout time.Duration
}

// NewStore builds a Store over repo. lockTimeout bounds how long a
// caller waits on a contended lock (0 means wait indefinitely, bounded
// only by ctx).
func NewStore(repo *bases.Repo, runner bases.Runner, lockTimeout time.Duration) *Store {
	return &Store{repo: repo, log: repo.Log, runner: runner, lockTimeout: lockTimeout}
}

func (s *Store) treesRoot() string { return s.repo.Path("images", "trees") }
func (s *Store) tagsRoot() string  { return s.repo.Path("images", "tags") }
func (s *Store) tmpRoot() string   { return s.repo.Path("images", "tmp") }

func (s *Store) treeDir(id ImageID) string    { return filepath.Join(s.treesRoot(), string(id)) }
func (s *Store) metadataPath(id ImageID) string {
	return filepath.Join(s.treeDir(id), "metadata")
}
func (s *Store) tagPath(tag string) string { return filepath.Join(s.tagsRoot(), tag) }

// Resolve applies selector-resolution (spec.md §4.2): exactly one of
// id/(name,version)/tag, returning ctrerr.NotFound if none match.
func (s *Store) Resolve(sel Selector) (ImageID, error) {
	if err := sel.Validate(); err != nil {
		return "", err
	}
	switch {
	case sel.ID != nil:
		if _, err := os.Stat(s.treeDir(*sel.ID)); err != nil {
			if os.IsNotExist(err) {
				return "", ctrerr.Newf(ctrerr.NotFound, string(*sel.ID), "no image with id %q", *sel.ID)
			}
			return "", ctrerr.New(ctrerr.IO, string(*sel.ID), err)
		}
		return *sel.ID, nil
	case sel.Tag != nil:
		return s.resolveTag(*sel.Tag)
	default:
		return s.resolveNameVersion(sel.NameVersion.Name, sel.NameVersion.Version)
	}
}

func (s *Store) resolveTag(tag string) (ImageID, error) {
	path := s.tagPath(tag)
	target, err := os.Readlink(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ctrerr.Newf(ctrerr.NotFound, tag, "no tag %q", tag)
		}
		return "", ctrerr.New(ctrerr.IO, path, err)
	}
	id := ImageID(filepath.Base(target))
	if err := id.Validate(); err != nil {
		return "", ctrerr.Newf(ctrerr.Corruption, path, "tag %q points at malformed id %q", tag, target)
	}
	return id, nil
}

func (s *Store) resolveNameVersion(name, version string) (ImageID, error) {
	entries, err := os.ReadDir(s.treesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ctrerr.Newf(ctrerr.NotFound, name+":"+version, "no image named %q version %q", name, version)
		}
		return "", ctrerr.New(ctrerr.IO, s.treesRoot(), err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := ImageID(e.Name())
		meta, err := s.readMetadata(id)
		if err != nil {
			continue
		}
		if meta.Name == name && meta.Version == version {
			return id, nil
		}
	}
	return "", ctrerr.Newf(ctrerr.NotFound, name+":"+version, "no image named %q version %q", name, version)
}

// Find is Resolve without the NotFound error: ok is false if the
// selector matches nothing.
func (s *Store) Find(sel Selector) (id ImageID, ok bool, err error) {
	id, err = s.Resolve(sel)
	if ctrerr.KindOf(err) == ctrerr.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) readMetadata(id ImageID) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		return Metadata{}, ctrerr.New(ctrerr.IO, s.metadataPath(id), err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, ctrerr.Newf(ctrerr.Corruption, s.metadataPath(id), "malformed metadata: %v", err)
	}
	return m, nil
}

// Import extracts archivePath (a tar.gz of a "metadata"+"rootfs/"
// tree, as produced by Build or a prior export) into a fresh scoped
// tmp dir, derives the image id from its canonicalized content, and
// installs it — steps (1)-(7) of spec.md §4.2's import-atomicity
// algorithm. Importing the same content twice is a no-op past the
// install step; tag, if given, is still (re)applied.
func (s *Store) Import(ctx context.Context, archivePath string, tag *string) (ImageID, error) {
	if err := bases.AssertRootPrivilege(); err != nil {
		return "", err
	}
	scoped, err := bases.NewScopedTmp(ctx, s.tmpRoot(), s.lockTimeout)
	if err != nil {
		return "", err
	}
	defer scoped.Close()

	if err := s.runner.Run(ctx, "tar", "-xzf", archivePath, "-C", scoped.Path); err != nil {
		return "", err
	}
	if err := validateArchiveLayout(scoped.Path); err != nil {
		return "", ctrerr.Newf(ctrerr.Validation, archivePath, "%v", err)
	}
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(scoped.Path, "metadata"))
	if err != nil {
		return "", ctrerr.New(ctrerr.IO, archivePath, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", ctrerr.Newf(ctrerr.Validation, archivePath, "archive metadata is malformed: %v", err)
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	return s.install(ctx, scoped, tag)
}

// validateArchiveLayout enforces spec.md §6's "top-level entries are
// exactly metadata and rootfs/. Other entries are rejected at import":
// extracted must contain exactly those two entries, no more, no fewer,
// and rootfs must be a directory. The ".lock" sentinel that the scoped
// tmp dir itself holds is not counted as an archive entry.
func validateArchiveLayout(extracted string) error {
	entries, err := os.ReadDir(extracted)
	if err != nil {
		return fmt.Errorf("cannot read extracted archive: %w", err)
	}
	var sawMetadata, sawRootfs bool
	var extra []string
	for _, e := range entries {
		switch e.Name() {
		case "metadata":
			sawMetadata = true
			if e.IsDir() {
				extra = append(extra, e.Name()+" (expected a file)")
			}
		case "rootfs":
			sawRootfs = true
			if !e.IsDir() {
				extra = append(extra, e.Name()+" (expected a directory)")
			}
		case ".lock":
		default:
			extra = append(extra, e.Name())
		}
	}
	if len(extra) > 0 {
		return fmt.Errorf("archive has unexpected top-level entries: %s", strings.Join(extra, ", "))
	}
	if !sawMetadata {
		return fmt.Errorf("archive is missing top-level metadata entry")
	}
	if !sawRootfs {
		return fmt.Errorf("archive is missing top-level rootfs/ entry")
	}
	return nil
}

// Build tars+gzips rootfsDir, hashes the result, and installs it —
// spec.md §4.2's build operation, factored as tarGzip(rootfs) then
// the same install path Import uses.
func (s *Store) Build(ctx context.Context, name, version, rootfsDir string, tag *string) (ImageID, error) {
	if err := bases.AssertRootPrivilege(); err != nil {
		return "", err
	}
	meta := Metadata{Name: name, Version: version}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	scoped, err := bases.NewScopedTmp(ctx, s.tmpRoot(), s.lockTimeout)
	if err != nil {
		return "", err
	}
	defer scoped.Close()

	data, err := json.Marshal(meta)
	if err != nil {
		return "", ctrerr.New(ctrerr.Validation, "", err)
	}
	if err := bases.WriteFileRoot(filepath.Join(scoped.Path, "metadata"), data, 0o640); err != nil {
		return "", err
	}
	rootfsOut := filepath.Join(scoped.Path, "rootfs")
	if err := bases.MakeDir(rootfsOut, 0o750); err != nil {
		return "", err
	}

	archiveFile, err := os.CreateTemp(s.tmpRoot(), "build-*.tar.gz")
	if err != nil {
		return "", ctrerr.New(ctrerr.IO, s.tmpRoot(), err)
	}
	archivePath := archiveFile.Name()
	archiveFile.Close()
	defer os.Remove(archivePath)

	if err := s.runner.Run(ctx, "tar", "-C", rootfsDir, "-czf", archivePath, "."); err != nil {
		return "", err
	}
	if err := s.runner.Run(ctx, "tar", "-xzf", archivePath, "-C", rootfsOut); err != nil {
		return "", err
	}

	return s.install(ctx, scoped, tag)
}

// install computes scoped's content id and renames it into place,
// discarding scoped if an image with that id already exists (spec.md
// §4.2 "Concurrency": the loser of a race discovers the winner and
// discards its copy).
func (s *Store) install(ctx context.Context, scoped *bases.ScopedTmp, tag *string) (ImageID, error) {
	id, err := ComputeID(scoped.Path)
	if err != nil {
		return "", err
	}
	dst := s.treeDir(id)

	if err := bases.MakeDir(s.treesRoot(), 0o750); err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		s.log.Debugw("image content already present, discarding duplicate import", "id", id)
	} else if !os.IsNotExist(err) {
		return "", ctrerr.New(ctrerr.IO, dst, err)
	} else {
		if err := scoped.Commit(dst); err != nil {
			if _, statErr := os.Stat(dst); statErr == nil {
				s.log.Debugw("lost the install race, discarding duplicate import", "id", id)
			} else {
				return "", err
			}
		}
	}

	if tag != nil {
		if err := s.Tag(ctx, ByID(id), *tag); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Tag writes/replaces tags/<newTag> to point at the image sel
// resolves to, atomically (rename over a freshly created symlink).
func (s *Store) Tag(ctx context.Context, sel Selector, newTag string) error {
	if err := ValidateName("tag", newTag); err != nil {
		return err
	}
	id, err := s.Resolve(sel)
	if err != nil {
		return err
	}
	return bases.WithLock(ctx, s.tagsRoot(), s.lockTimeout, func() error {
		if err := bases.MakeDir(s.tagsRoot(), 0o750); err != nil {
			return err
		}
		tmp := s.tagPath(newTag + ".tmp-" + uuid.New().String())
		if err := os.Symlink(filepath.Join("..", "trees", string(id)), tmp); err != nil {
			return ctrerr.New(ctrerr.IO, tmp, err)
		}
		if err := os.Rename(tmp, s.tagPath(newTag)); err != nil {
			os.Remove(tmp)
			return ctrerr.New(ctrerr.IO, s.tagPath(newTag), err)
		}
		return nil
	})
}

// RemoveTag unlinks tags/<tag>. Idempotent.
func (s *Store) RemoveTag(ctx context.Context, tag string) error {
	return bases.WithLock(ctx, s.tagsRoot(), s.lockTimeout, func() error {
		if err := os.Remove(s.tagPath(tag)); err != nil && !os.IsNotExist(err) {
			return ctrerr.New(ctrerr.IO, s.tagPath(tag), err)
		}
		return nil
	})
}

// tagsFor scans tagsRoot and returns every tag currently pointing at
// id.
func (s *Store) tagsFor(id ImageID) ([]string, error) {
	entries, err := os.ReadDir(s.tagsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ctrerr.New(ctrerr.IO, s.tagsRoot(), err)
	}
	var tags []string
	for _, e := range entries {
		target, err := os.Readlink(s.tagPath(e.Name()))
		if err != nil {
			continue
		}
		if ImageID(filepath.Base(target)) == id {
			tags = append(tags, e.Name())
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Remove refuses (ctrerr.Busy) if skipActive is set and the image's
// ref count exceeds 1, else unlinks every tag pointing at it and
// removes its tree directory.
func (s *Store) Remove(ctx context.Context, sel Selector, skipActive bool) error {
	if err := bases.AssertRootPrivilege(); err != nil {
		return err
	}
	id, err := s.Resolve(sel)
	if err != nil {
		return err
	}
	return bases.WithLock(ctx, s.treesRoot(), s.lockTimeout, func() error {
		return s.removeLocked(ctx, id, skipActive)
	})
}

func (s *Store) removeLocked(ctx context.Context, id ImageID, skipActive bool) error {
	count, err := bases.RefCount(s.metadataPath(id))
	if err != nil {
		return err
	}
	if skipActive && count > 1 {
		return ctrerr.Newf(ctrerr.Busy, string(id), "image is referenced by %d other path(s)", count-1)
	}
	tags, err := s.tagsFor(id)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := os.Remove(s.tagPath(tag)); err != nil && !os.IsNotExist(err) {
			return ctrerr.New(ctrerr.IO, s.tagPath(tag), err)
		}
	}
	if err := os.RemoveAll(s.treeDir(id)); err != nil {
		return ctrerr.New(ctrerr.IO, s.treeDir(id), err)
	}
	return nil
}

// Cleanup removes every image whose ref count is 1 (unreferenced
// except by its own tree), has no tags, and is older than grace.
func (s *Store) Cleanup(ctx context.Context, grace time.Duration) error {
	return bases.WithLock(ctx, s.treesRoot(), s.lockTimeout, func() error {
		entries, err := os.ReadDir(s.treesRoot())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return ctrerr.New(ctrerr.IO, s.treesRoot(), err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id := ImageID(e.Name())
			count, err := bases.RefCount(s.metadataPath(id))
			if err != nil {
				continue
			}
			if count != 1 {
				continue
			}
			old, err := bases.IsOldEnough(s.treeDir(id), grace)
			if err != nil || !old {
				continue
			}
			tags, err := s.tagsFor(id)
			if err != nil || len(tags) > 0 {
				continue
			}
			if err := os.RemoveAll(s.treeDir(id)); err != nil {
				return ctrerr.New(ctrerr.IO, s.treeDir(id), err)
			}
			s.log.Infow("image reclaimed by cleanup", "id", id)
		}
		return nil
	})
}

// List returns every image, ordered by name then version then id, per
// spec.md §4.2.
func (s *Store) List() ([]ListEntry, error) {
	entries, err := os.ReadDir(s.treesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ctrerr.New(ctrerr.IO, s.treesRoot(), err)
	}
	var out []ListEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := ImageID(e.Name())
		meta, err := s.readMetadata(id)
		if err != nil {
			s.log.Warnw("skipping image with unreadable metadata", "id", id, "error", err)
			continue
		}
		count, err := bases.RefCount(s.metadataPath(id))
		if err != nil {
			continue
		}
		tags, err := s.tagsFor(id)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(s.treeDir(id))
		if err != nil {
			continue
		}
		out = append(out, ListEntry{
			ID: id, Name: meta.Name, Version: meta.Version, Tags: tags,
			MTime: info.ModTime(), RefCount: count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MetadataPath returns the path a pod or xar should hard-link to
// claim a reference to id's metadata.
func (s *Store) MetadataPath(id ImageID) string { return s.metadataPath(id) }

// RootfsPath returns id's rootfs directory, used as an overlay lower
// layer by pods and as the base for a xar's exec symlink.
func (s *Store) RootfsPath(id ImageID) string { return filepath.Join(s.treeDir(id), "rootfs") }

// Exists reports whether id refers to an installed image tree.
func (s *Store) Exists(id ImageID) bool {
	_, err := os.Stat(s.treeDir(id))
	return err == nil
}
