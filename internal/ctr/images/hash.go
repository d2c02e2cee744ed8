package images

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// typeTag is the one-byte entry kind hashed alongside each path, per
// bases.HashAlgorithm.
const (
	typeFile    = 'f'
	typeDir     = 'd'
	typeSymlink = 'l'
)

// ComputeID hashes dir (an image tree holding a "metadata" file and a
// "rootfs/" directory) per bases.HashAlgorithm, and returns the
// resulting ImageID. Entries are walked in two fixed passes —
// "metadata" first, then a lexicographically sorted walk of "rootfs"
// — so the result never depends on directory-read order or on the
// host's filesystem.
func ComputeID(dir string) (ImageID, error) {
	h := sha256.New()

	metaPath := filepath.Join(dir, "metadata")
	if err := hashFile(h, metaPath, "metadata"); err != nil {
		return "", err
	}

	rootfs := filepath.Join(dir, "rootfs")
	entries, err := sortedRelPaths(rootfs)
	if err != nil {
		return "", err
	}
	for _, rel := range entries {
		full := filepath.Join(rootfs, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return "", ctrerr.New(ctrerr.IO, full, err)
		}
		if err := hashEntry(h, "rootfs/"+filepath.ToSlash(rel), info, full); err != nil {
			return "", err
		}
	}

	return ImageID(hex.EncodeToString(h.Sum(nil))), nil
}

// sortedRelPaths returns every entry under root (files, dirs,
// symlinks; root itself excluded), as slash-separated paths relative
// to root, sorted lexicographically.
func sortedRelPaths(root string) ([]string, error) {
	var rels []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ctrerr.New(ctrerr.IO, root, err)
	}
	sort.Strings(rels)
	return rels, nil
}

func hashEntry(h hash.Hash, relPath string, info os.FileInfo, full string) error {
	io.WriteString(h, relPath)
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		h.Write([]byte{typeSymlink})
		writeMode(h, mode)
		target, err := os.Readlink(full)
		if err != nil {
			return ctrerr.New(ctrerr.IO, full, err)
		}
		io.WriteString(h, target)
	case info.IsDir():
		h.Write([]byte{typeDir})
		writeMode(h, mode)
	default:
		h.Write([]byte{typeFile})
		writeMode(h, mode)
		f, err := os.Open(full)
		if err != nil {
			return ctrerr.New(ctrerr.IO, full, err)
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return ctrerr.New(ctrerr.IO, full, err)
		}
	}
	return nil
}

func writeMode(h hash.Hash, mode os.FileMode) {
	perm := mode.Perm()
	h.Write([]byte{byte(perm >> 8), byte(perm)})
}

func hashFile(h hash.Hash, path, relPath string) error {
	io.WriteString(h, relPath)
	f, err := os.Open(path)
	if err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return ctrerr.New(ctrerr.IO, path, err)
	}
	return nil
}
