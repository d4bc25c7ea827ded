package safe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/storage"
)

func TestListFiles_Filters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	mustPut(t, s, "notes.txt", "short", PutOptions{Tags: []string{"personal"}})
	mustPut(t, s, "photo.png", "\x89PNG\r\n\x1a\n"+strings.Repeat("p", 100), PutOptions{Tags: []string{"personal", "image"}})
	mustPut(t, s, "report.pdf", "%PDF-1.4 "+strings.Repeat("r", 50), PutOptions{})
	mustPut(t, s, "work/plan.txt", "plan", PutOptions{Tags: []string{"work"}})
	mustPut(t, s, "work/deep/design.txt", "# design", PutOptions{ContentType: "text/markdown"})
	mustPut(t, s, "workshop/x.txt", "x", PutOptions{})

	list := func(dir string, opts ListOptions) []string {
		t.Helper()
		files, err := s.ListFiles(ctx, dir, opts)
		require.NoError(t, err)
		return names(files)
	}

	assert.Equal(t, []string{"notes.txt", "photo.png", "report.pdf"}, list("", ListOptions{}))
	assert.Equal(t, []string{"work/deep/design.txt", "work/plan.txt"}, list("work", ListOptions{Recursive: true}))
	assert.Equal(t, []string{"work/plan.txt"}, list("/work/", ListOptions{}))
	assert.Len(t, list("", ListOptions{Recursive: true}), 6)

	assert.Equal(t, []string{"report.pdf"}, list("", ListOptions{Prefix: "rep"}))
	assert.Equal(t, []string{"notes.txt"}, list("", ListOptions{Suffix: ".txt"}))
	assert.Equal(t, []string{"photo.png"}, list("", ListOptions{Tags: []string{"personal", "image"}}))
	assert.Equal(t, []string{"photo.png"}, list("", ListOptions{ContentType: "image/"}))
	assert.Equal(t, []string{"report.pdf"}, list("", ListOptions{ContentType: "application/pdf"}))
	assert.Equal(t, []string{"work/deep/design.txt"}, list("", ListOptions{Recursive: true, ContentType: "text/markdown"}))

	// modification times are 12:01, 12:02, 12:03 for the root files
	assert.Equal(t, []string{"photo.png"}, list("", ListOptions{
		After:  time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC),
		Before: time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC),
	}))

	assert.Equal(t, []string{"report.pdf", "photo.png", "notes.txt"}, list("", ListOptions{OrderBy: OrderByModTime, Reverse: true}))
	assert.Equal(t, []string{"notes.txt", "report.pdf", "photo.png"}, list("", ListOptions{OrderBy: OrderBySize}))
	assert.Equal(t, []string{"photo.png"}, list("", ListOptions{Offset: 1, Limit: 1}))
	assert.Empty(t, list("", ListOptions{Offset: 10}))

	_, err := s.ListFiles(ctx, "", ListOptions{OrderBy: "color"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = s.ListFiles(ctx, "", ListOptions{Limit: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = s.ListFiles(ctx, "../x", ListOptions{})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestListDirs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	for _, name := range []string{"a.txt", "docs/x", "docs/2024/y", "docs/2024/q1/z", "media/v"} {
		mustPut(t, s, name, name, PutOptions{})
	}

	dirs, err := s.ListDirs(ctx, "", ListDirsOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "media"}, dirs)

	dirs, err = s.ListDirs(ctx, "docs", ListDirsOptions{Depth: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024", "2024/q1"}, dirs)

	dirs, err = s.ListDirs(ctx, "media", ListDirsOptions{})
	require.NoError(t, err)
	assert.Empty(t, dirs)

	_, err = s.ListDirs(ctx, "missing", ListDirsOptions{ErrorIfNotExist: true})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	dirs, err = s.ListDirs(ctx, "missing", ListDirsOptions{})
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestPut_BinaryAndZip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	binary := make([]byte, 256*3)
	for i := range binary {
		binary[i] = byte(i)
	}
	mustPut(t, s, "bin", string(binary), PutOptions{})
	got, err := s.GetBytes(ctx, "bin", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, binary, got)

	text := strings.Repeat("compress me please ", 10_000)
	h := mustPut(t, s, "big.txt", text, PutOptions{Zip: true})
	assert.True(t, h.Zip)
	assert.Equal(t, int64(len(text)), h.Size)
	assert.Equal(t, text, mustGet(t, s, "big.txt"))

	info, err := f.store().Stat(ctx, s.layout.data(h.ContentID))
	require.NoError(t, err)
	assert.Less(t, info.Size, int64(len(text)/10))

	empty := mustPut(t, s, "empty", "", PutOptions{})
	assert.Zero(t, empty.Size)
	assert.Equal(t, "", mustGet(t, s, "empty"))
}

func TestPut_MetadataIsStored(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, nil)

	mustPut(t, s, "a.bin", "data", PutOptions{
		ContentType: "application/x-custom",
		Tags:        []string{"t1"},
		Meta:        map[string]string{"origin": "scanner"},
	})

	files, err := s.ListFiles(context.Background(), "", ListOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "application/x-custom", files[0].ContentType)
	assert.Equal(t, []string{"t1"}, files[0].Tags)
	assert.Equal(t, map[string]string{"origin": "scanner"}, files[0].Meta)
}

func TestGet_Versions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	v1 := mustPut(t, s, "a.txt", "one", PutOptions{})
	v2 := mustPut(t, s, "a.txt", "two", PutOptions{Overwrite: true})
	assert.Greater(t, v2.FileID, v1.FileID)

	got, err := s.GetBytes(ctx, "a.txt", GetOptions{FileID: v2.FileID})
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	// superseded versions are collected
	_, err = s.GetBytes(ctx, "a.txt", GetOptions{FileID: v1.FileID})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.GetBytes(ctx, "b.txt", GetOptions{FileID: v2.FileID})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.GetBytes(ctx, "a.txt", GetOptions{FileID: "not-a-uuid"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = s.GetBytes(ctx, "missing", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGet_DetectsCorruptedContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)
	h := mustPut(t, s, "a.txt", "payload", PutOptions{})

	key := s.layout.data(h.ContentID)
	sealed, err := storage.ReadAll(ctx, f.store(), key)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff
	require.NoError(t, storage.PutBytes(ctx, f.store(), key, sealed))

	_, err = s.GetBytes(ctx, "a.txt", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrIO)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)
	mustPut(t, s, "dir/a.txt", "a", PutOptions{})

	require.NoError(t, s.Delete(ctx, "dir/a.txt"))

	_, err := s.GetBytes(ctx, "dir/a.txt", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	files, err := s.ListFiles(ctx, "", ListOptions{Recursive: true})
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, f.objects(t, "data/"))

	assert.ErrorIs(t, s.Delete(ctx, "dir/a.txt"), errs.ErrNotFound)

	// a deleted name can be written again without Overwrite
	mustPut(t, s, "dir/a.txt", "again", PutOptions{})
	assert.Equal(t, "again", mustGet(t, s, "dir/a.txt"))
}

func TestDelete_ReachesOtherDevices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)
	mustPut(t, s, "a.txt", "a", PutOptions{})

	other := f.openOn(t, f.otherDevice(t), f.creator)
	assert.Equal(t, "a", mustGet(t, other, "a.txt"))

	require.NoError(t, s.Delete(ctx, "a.txt"))

	changes, err := other.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, changes)
	_, err = other.GetBytes(ctx, "a.txt", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)
	v1 := mustPut(t, s, "a.txt", "payload", PutOptions{Tags: []string{"old"}, Meta: map[string]string{"k": "v"}})

	v2, err := s.Patch(ctx, "a.txt", PatchOptions{Tags: []string{"new"}, ContentType: "text/x-note"})
	require.NoError(t, err)
	assert.Greater(t, v2.FileID, v1.FileID)
	assert.Equal(t, v1.ContentID, v2.ContentID)
	assert.Equal(t, v1.Size, v2.Size)
	assert.Equal(t, v1.Hash, v2.Hash)
	assert.Equal(t, []string{"new"}, v2.Tags)
	assert.Equal(t, map[string]string{"k": "v"}, v2.Meta)
	assert.Equal(t, "text/x-note", v2.ContentType)

	// the old header is collected, the shared body is not
	assert.Len(t, f.objects(t, "data/"), 1)
	assert.Len(t, f.objects(t, "headers/"), 1)
	assert.Equal(t, "payload", mustGet(t, s, "a.txt"))

	other := f.openOn(t, f.otherDevice(t), f.creator)
	files, err := other.ListFiles(ctx, "", ListOptions{Tags: []string{"new"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names(files))
	assert.Equal(t, "payload", mustGet(t, other, "a.txt"))

	v3, err := s.Patch(ctx, "a.txt", PatchOptions{Meta: map[string]string{}})
	require.NoError(t, err)
	assert.Empty(t, v3.Meta)
	assert.Equal(t, []string{"new"}, v3.Tags)

	_, err = s.Patch(ctx, "missing.txt", PatchOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.Patch(ctx, "a.txt", PatchOptions{ContentType: strings.Repeat("x", 300)})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPatch_InterruptedKeepsBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)
	mustPut(t, s, "a.txt", "payload", PutOptions{})
	require.NoError(t, s.Close(ctx))

	for _, stage := range []string{"journal", "header"} {
		patching, err := Open(ctx, f.env, f.creator, f.tokenFor(t, f.creator), OpenOptions{})
		require.NoError(t, err)
		patching.interruptHook = func(got string) bool { return got == stage }
		_, err = patching.Patch(ctx, "a.txt", PatchOptions{Tags: []string{stage}})
		require.ErrorIs(t, err, errs.ErrIO)
		require.NoError(t, patching.Close(ctx))

		reopened, err := Open(ctx, f.env, f.creator, f.tokenFor(t, f.creator), OpenOptions{})
		require.NoError(t, err)
		assert.Equal(t, "payload", mustGet(t, reopened, "a.txt"), "after %s", stage)
		assert.Len(t, f.objects(t, "data/"), 1, "after %s", stage)
		require.NoError(t, reopened.Close(ctx))
	}
}

func TestPutFile_GetFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	content := bytes.Repeat([]byte{1, 2, 3, 4, 5}, chunkSize/2)
	require.NoError(t, writeLocal(f, "/src/in.bin", string(content)))
	require.NoError(t, f.env.Files.MkdirAll("/dst", 0o755))

	h, err := s.PutFile(ctx, "in.bin", "/src/in.bin", PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), h.Size)

	require.NoError(t, s.GetFile(ctx, "in.bin", "/dst/out.bin", GetOptions{}))
	got, err := afero.ReadFile(f.env.Files, "/dst/out.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	entries, err := afero.ReadDir(f.env.Files, "/dst")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file may remain")

	_, err = s.PutFile(ctx, "x", "/src/missing.bin", PutOptions{})
	assert.ErrorIs(t, err, errs.ErrIO)
	_, err = s.PutFile(ctx, "x", "/src", PutOptions{})
	assert.ErrorIs(t, err, errs.ErrIO)

	err = s.GetFile(ctx, "missing", "/dst/none", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetFile_UnwritableDestination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.env.Files = afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := f.create(t, nil)
	mustPut(t, s, "a.txt", "a", PutOptions{})

	err := s.GetFile(ctx, "a.txt", "/out/a.txt", GetOptions{})
	assert.ErrorIs(t, err, errs.ErrIO)
}

func TestPut_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t, nil)

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		shared  []Header
		created int
	)
	for i := range writers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.PutBytes(ctx, fmt.Sprintf("own/%02d.txt", i), []byte("own"), PutOptions{})
			if assert.NoError(t, err) {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			h, err := s.PutBytes(ctx, "shared.txt", []byte(fmt.Sprintf("writer %d", i)), PutOptions{Overwrite: true})
			if assert.NoError(t, err) {
				mu.Lock()
				shared = append(shared, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	files, err := s.ListFiles(ctx, "own", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, files, created)

	require.Len(t, shared, writers)
	latest := shared[0]
	for _, h := range shared[1:] {
		if h.FileID > latest.FileID {
			latest = h
		}
	}
	current, err := s.ListFiles(ctx, "", ListOptions{Prefix: "shared"})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, latest.FileID, current[0].FileID)
	assert.Equal(t, latest.Hash, hashHex([]byte(mustGet(t, s, "shared.txt"))))

	assert.Len(t, f.objects(t, "data/"), created+1)
}
