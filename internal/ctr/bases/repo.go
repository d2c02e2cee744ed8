// Package bases implements the shared foundation every other ctr
// component builds on: repository root resolution, advisory file
// locking, scoped tmp directories, uid/gid ownership policy, and the
// grace-period predicate used by every cleanup routine.
package bases

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// SupportedVersion is the on-disk state layout version this build
// understands. Bump it, and add a migration, whenever the layout
// changes in an incompatible way.
const SupportedVersion = 1

const (
	dirModeDefault  = 0o750
	fileModeDefault = 0o640
)

// Repo is a handle on one resolved repository root. It is constructed
// once at process start (from a flag, an env var, or the built-in
// default) and passed explicitly to every component — there is no
// package-level mutable repository state.
type Repo struct {
	Root string
	Log  *zap.SugaredLogger
}

// NewRepo resolves root to an absolute path and returns a handle. It
// does not touch the filesystem.
func NewRepo(root string, log *zap.SugaredLogger) (*Repo, error) {
	if !filepath.IsAbs(root) {
		return nil, ctrerr.Newf(ctrerr.Validation, root, "repository root must be an absolute path")
	}
	return &Repo{Root: filepath.Clean(root), Log: log}, nil
}

// Sub-repository directories, relative to Root.
var subdirs = []string{
	"images/trees",
	"images/tags",
	"images/tmp",
	"pods/active",
	"pods/graveyard",
	"pods/tmp",
	"xars",
}

// Path joins elem onto the repo root.
func (r *Repo) Path(elem ...string) string {
	return filepath.Join(append([]string{r.Root}, elem...)...)
}

// Init creates the sub-repository directory tree with the ownership
// policy from spec.md §4.1 and writes REPO/VERSION. Idempotent.
func (r *Repo) Init() error {
	if err := MakeDir(r.Root, dirModeDefault); err != nil {
		return err
	}
	for _, d := range subdirs {
		if err := MakeDir(r.Path(d), dirModeDefault); err != nil {
			return err
		}
	}
	versionPath := r.Path("VERSION")
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		content := strconv.Itoa(SupportedVersion) + "\n"
		if err := WriteFileRoot(versionPath, []byte(content), fileModeDefault); err != nil {
			return err
		}
	}
	if err := r.WriteHashAlgorithmDoc(); err != nil {
		return err
	}
	r.Log.Infow("repository initialized", "root", r.Root)
	return nil
}

// CheckVersion verifies REPO/VERSION matches SupportedVersion. Every
// operation other than Init calls this before touching the repo.
func (r *Repo) CheckVersion() error {
	versionPath := r.Path("VERSION")
	data, err := os.ReadFile(versionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ctrerr.Newf(ctrerr.Corruption, versionPath, "repository is not initialized (run `ctr init`)")
		}
		return ctrerr.New(ctrerr.IO, versionPath, err)
	}
	found, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ctrerr.Newf(ctrerr.Corruption, versionPath, "malformed VERSION file: %v", err)
	}
	if found != SupportedVersion {
		return ctrerr.Newf(
			ctrerr.Corruption, versionPath,
			"unsupported repository version %d (this build supports %d)", found, SupportedVersion,
		)
	}
	return nil
}

// ImagesRoot, PodsRoot, XarsRoot locate the three sub-repositories.
func (r *Repo) ImagesRoot() string { return r.Path("images") }
func (r *Repo) PodsRoot() string   { return r.Path("pods") }
func (r *Repo) XarsRoot() string   { return r.Path("xars") }

// HashAlgorithm documents the image-id canonicalization scheme this
// build uses (spec.md §9 open question 2). It is never parsed; it
// exists so the scheme is recorded on disk next to VERSION.
const HashAlgorithm = `sha256 over "metadata" then a sorted walk of "rootfs/":
"metadata" contributes its name followed by its content; each entry
under rootfs/ contributes its slash-separated relative path, a one-byte
type tag (f=file, d=dir, l=symlink), its mode masked to 0777 (two bytes,
big-endian), and either its file content or (for a symlink) its target.
mtime, uid/gid, and device or inode numbers are never hashed.`

// WriteHashAlgorithmDoc writes REPO/HASH_ALGORITHM once, at Init time,
// so the canonicalization is discoverable on a live repository.
func (r *Repo) WriteHashAlgorithmDoc() error {
	path := r.Path("HASH_ALGORITHM")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return WriteFileRoot(path, []byte(HashAlgorithm+"\n"), fileModeDefault)
}
