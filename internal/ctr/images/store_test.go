package images

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glennswest/ctr/internal/ctr/bases"
	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	repo, err := bases.NewRepo(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, repo.Init())
	return NewStore(repo, fakeTarRunner{}, time.Second)
}

func writeRootfs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o640))
	}
	return dir
}

func TestBuildThenFindByNameVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootfs := writeRootfs(t, map[string]string{"etc/hostname": "box\n"})

	id, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.NoError(t, err)
	require.NoError(t, id.Validate())

	found, ok, err := s.Find(ByNameVersion("base", "v1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)
}

func TestBuildIsContentAddressedAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootfs := writeRootfs(t, map[string]string{"a": "same"})

	id1, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.NoError(t, err)
	id2, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "hashing identical content twice must yield the same id")

	count, err := bases.RefCount(s.MetadataPath(id1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "a duplicate build must not create extra ref edges")
}

func TestTagAndRemoveTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootfs := writeRootfs(t, map[string]string{"a": "1"})
	id, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.NoError(t, err)

	require.NoError(t, s.Tag(ctx, ByID(id), "latest"))
	found, err := s.Resolve(ByTag("latest"))
	require.NoError(t, err)
	assert.Equal(t, id, found)

	require.NoError(t, s.RemoveTag(ctx, "latest"))
	_, err = s.Resolve(ByTag("latest"))
	require.Error(t, err)
	assert.Equal(t, ctrerr.NotFound, ctrerr.KindOf(err))

	require.NoError(t, s.RemoveTag(ctx, "latest"), "removing an absent tag is idempotent")
}

func TestRemoveRefusesWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rootfs := writeRootfs(t, map[string]string{"a": "1"})
	id, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.NoError(t, err)

	dep := filepath.Join(t.TempDir(), "dep")
	require.NoError(t, bases.AddRef(s.MetadataPath(id), dep))

	err = s.Remove(ctx, ByID(id), true)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Busy, ctrerr.KindOf(err))

	require.NoError(t, bases.RemoveRef(dep))
	require.NoError(t, s.Remove(ctx, ByID(id), true))

	_, _, err = s.Find(ByID(id))
	require.NoError(t, err)
}

func TestCleanupReclaimsOnlyOldUntaggedUnreferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idOld, err := s.Build(ctx, "old", "v1", writeRootfs(t, map[string]string{"a": "1"}), nil)
	require.NoError(t, err)
	idTagged, err := s.Build(ctx, "tagged", "v1", writeRootfs(t, map[string]string{"a": "2"}), nil)
	require.NoError(t, err)
	require.NoError(t, s.Tag(ctx, ByID(idTagged), "keep"))

	require.NoError(t, s.Cleanup(ctx, 0))

	_, ok, err := s.Find(ByID(idOld))
	require.NoError(t, err)
	assert.False(t, ok, "untagged, unreferenced, old-enough image should be reclaimed")

	_, ok, err = s.Find(ByID(idTagged))
	require.NoError(t, err)
	assert.True(t, ok, "tagged image must survive cleanup")
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Build(ctx, "zeta", "v1", writeRootfs(t, map[string]string{"a": "1"}), nil)
	require.NoError(t, err)
	_, err = s.Build(ctx, "alpha", "v2", writeRootfs(t, map[string]string{"a": "2"}), nil)
	require.NoError(t, err)
	_, err = s.Build(ctx, "alpha", "v1", writeRootfs(t, map[string]string{"a": "3"}), nil)
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"alpha", "alpha", "zeta"}, []string{list[0].Name, list[1].Name, list[2].Name})
	assert.Equal(t, "v1", list[0].Version)
	assert.Equal(t, "v2", list[1].Version)
}

func TestMutatingOperationsRequireRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; privilege check can't be exercised")
	}
	s := newTestStore(t)
	ctx := context.Background()
	rootfs := writeRootfs(t, map[string]string{"a": "1"})

	_, err := s.Build(ctx, "base", "v1", rootfs, nil)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Permission, ctrerr.KindOf(err))

	_, err = s.Import(ctx, filepath.Join(t.TempDir(), "nonexistent.tar.gz"), nil)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Permission, ctrerr.KindOf(err))

	err = s.Remove(ctx, ByID(ImageID("a")), false)
	require.Error(t, err)
	assert.Equal(t, ctrerr.Permission, ctrerr.KindOf(err))
}

func TestValidateArchiveLayoutRejectsExtraTopLevelEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata"), []byte("{}"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra"), []byte("nope"), 0o640))

	err := validateArchiveLayout(dir)
	require.Error(t, err)
}

func TestValidateArchiveLayoutRejectsMissingEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata"), []byte("{}"), 0o640))

	err := validateArchiveLayout(dir)
	require.Error(t, err)
}

func TestValidateArchiveLayoutAcceptsExactLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata"), []byte("{}"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rootfs"), 0o750))

	require.NoError(t, validateArchiveLayout(dir))
}

func TestSelectorValidationRejectsAmbiguousSelector(t *testing.T) {
	id := ImageID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tag := "t"
	sel := Selector{ID: &id, Tag: &tag}
	err := sel.Validate()
	require.Error(t, err)
	assert.Equal(t, ctrerr.Validation, ctrerr.KindOf(err))
}
