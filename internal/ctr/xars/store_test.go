package xars

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/images"
)

// fakeTarRunner is a bases.Runner that implements "tar -C dir -czf
// archive ." and "tar -xzf archive -C dir" in pure Go, the same
// fake-external-process pattern images.fakeTarRunner uses, kept local
// since that type is unexported in another package.
type fakeTarRunner struct{}

func (fakeTarRunner) Run(_ context.Context, name string, args ...string) error {
	if name != "tar" {
		return fmt.Errorf("fakeTarRunner: unsupported command %q", name)
	}
	switch {
	case len(args) >= 4 && args[0] == "-C" && args[2] == "-czf":
		return tarCreate(args[3], args[1])
	case len(args) >= 4 && args[0] == "-xzf":
		return tarExtract(args[1], args[3])
	default:
		return fmt.Errorf("fakeTarRunner: unsupported args %v", args)
	}
}

func (r fakeTarRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return nil, r.Run(ctx, name, args...)
}

func tarCreate(archivePath, srcDir string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			in, err := os.Open(path)
			if err != nil {
				return err
			}
			defer in.Close()
			if _, err := io.Copy(tw, in); err != nil {
				return err
			}
		}
		return nil
	})
}

func tarExtract(archivePath, dstDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		dst := filepath.Join(dstDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o750); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return err
			}
			out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func newTestStores(t *testing.T) (*images.Store, *Store, string) {
	t.Helper()
	repo, err := bases.NewRepo(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, repo.Init())
	imageStore := images.NewStore(repo, fakeTarRunner{}, time.Second)
	scriptDir := filepath.Join(t.TempDir(), "bin")
	xarStore := NewStore(repo, imageStore, scriptDir, time.Second)
	return imageStore, xarStore, scriptDir
}

func TestInstallExecUninstall(t *testing.T) {
	ctx := context.Background()
	imageStore, xarStore, scriptDir := newTestStores(t)

	rootfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "a/b/c"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(rootfs, "a/b/c/foo.sh"), []byte("#!/bin/sh\necho hi\n"), 0o750))

	id, err := imageStore.Build(ctx, "sample-app", "v1", rootfs, nil)
	require.NoError(t, err)

	name := Name("foo-sh")
	require.NoError(t, xarStore.Install(ctx, images.ByID(id), name, "a/b/c/foo.sh"))

	list, err := xarStore.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, name, list[0].Name)
	assert.Equal(t, id, list[0].ImageID)

	assert.FileExists(t, filepath.Join(scriptDir, "foo-sh"))

	resolved, resolvedID, err := resolveExec(xarStore.xarDir(name))
	require.NoError(t, err)
	assert.Equal(t, id, resolvedID)
	assert.FileExists(t, resolved)

	require.NoError(t, xarStore.Uninstall(ctx, name))
	assert.NoFileExists(t, filepath.Join(scriptDir, "foo-sh"))

	require.NoError(t, xarStore.Cleanup(ctx))
	list, err = xarStore.List()
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestInstallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	imageStore, xarStore, _ := newTestStores(t)

	rootfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "bin"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(rootfs, "bin/app"), []byte("x"), 0o750))
	id, err := imageStore.Build(ctx, "app", "v1", rootfs, nil)
	require.NoError(t, err)

	name := Name("app")
	require.NoError(t, xarStore.Install(ctx, images.ByID(id), name, "bin/app"))
	require.NoError(t, xarStore.Install(ctx, images.ByID(id), name, "bin/app"))

	count, err := bases.RefCount(imageStore.MetadataPath(id))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestValidateRejectsUnsafeNames(t *testing.T) {
	assert.Error(t, Name("").Validate())
	assert.Error(t, Name("a/b").Validate())
	assert.NoError(t, Name("hello-world").Validate())
}
