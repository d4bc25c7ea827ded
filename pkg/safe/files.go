package safe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// sniffLen is how much of a body is inspected for content type detection.
const sniffLen = 3072

// FileSource names a local file to store under Name.
type FileSource struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// ListFiles returns the files in dir (and below it when Recursive),
// filtered and ordered by opts. The result is read from one consistent
// snapshot of the local index.
func (s *Safe) ListFiles(ctx context.Context, dir string, opts ListOptions) (out []Header, err error) {
	leave, err := s.enter("list_files", &err)
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := validate(opts); err != nil {
		return nil, err
	}
	if err := s.require(PermissionRead, "list"); err != nil {
		return nil, err
	}
	dir, err = cleanDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := s.index.dirScope(dir)
	if opts.Recursive {
		prefix = s.index.treeScope(dir)
	}

	var entries []Header
	err = s.env.DB.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, prefix, func(_ []byte, h Header) error {
			if h.Deleted || !inTree(h.Dir, dir) || !matches(h, opts) {
				return nil
			}
			entries = append(entries, h)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to read index")
	}

	sortHeaders(entries, opts.OrderBy, opts.Reverse)

	if opts.Offset >= len(entries) {
		return []Header{}, nil
	}
	entries = entries[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// ListDirs returns the subdirectories of dir, relative to it, up to
// opts.Depth levels. Directories exist as long as they contain files.
func (s *Safe) ListDirs(ctx context.Context, dir string, opts ListDirsOptions) (out []string, err error) {
	leave, err := s.enter("list_dirs", &err)
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := validate(opts); err != nil {
		return nil, err
	}
	if err := s.require(PermissionRead, "list"); err != nil {
		return nil, err
	}
	dir, err = cleanDir(dir)
	if err != nil {
		return nil, err
	}
	depth := opts.Depth
	if depth == 0 {
		depth = 1
	}

	found := false
	dirs := make(map[string]struct{})
	err = s.env.DB.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, s.index.treeScope(dir), func(_ []byte, h Header) error {
			if h.Deleted || !inTree(h.Dir, dir) {
				return nil
			}
			found = true

			rel := h.Dir
			if dir != "" {
				rel = strings.TrimPrefix(strings.TrimPrefix(h.Dir, dir), "/")
			}
			if rel == "" {
				return nil
			}
			segments := strings.Split(rel, "/")
			for k := 1; k <= min(depth, len(segments)); k++ {
				dirs[strings.Join(segments[:k], "/")] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to read index")
	}

	if !found && dir != "" && opts.ErrorIfNotExist {
		return nil, errs.New(errs.KindNotFound, dir, "directory")
	}

	out = make([]string, 0, len(dirs))
	for d := range dirs {
		out = append(out, d)
	}
	slices.Sort(out)
	return out, nil
}

// PutBytes stores data under name.
func (s *Safe) PutBytes(ctx context.Context, name string, data []byte, opts PutOptions) (h Header, err error) {
	leave, err := s.enter("put", &err)
	if err != nil {
		return Header{}, err
	}
	defer leave()

	return s.put(ctx, name, bytes.NewReader(data), opts)
}

// PutFile streams the local file at source into name.
func (s *Safe) PutFile(ctx context.Context, name, source string, opts PutOptions) (h Header, err error) {
	leave, err := s.enter("put", &err)
	if err != nil {
		return Header{}, err
	}
	defer leave()

	return s.putFile(ctx, name, source, opts)
}

// PutFiles stores several local files in order. It stops at the first
// failure and reports it as a *errs.BatchError; files stored before the
// failure stay stored.
func (s *Safe) PutFiles(ctx context.Context, files []FileSource, opts PutOptions) (headers []Header, err error) {
	leave, err := s.enter("put_files", &err)
	if err != nil {
		return nil, err
	}
	defer leave()

	completed := make([]string, 0, len(files))
	for _, f := range files {
		h, err := s.putFile(ctx, f.Name, f.Source, opts)
		if err != nil {
			return headers, &errs.BatchError{Unit: f.Name, Completed: completed, Err: err}
		}
		headers = append(headers, h)
		completed = append(completed, h.Name)
	}
	return headers, nil
}

func (s *Safe) putFile(ctx context.Context, name, source string, opts PutOptions) (Header, error) {
	f, err := s.env.Files.Open(source)
	if err != nil {
		return Header{}, errs.Wrap(errs.KindIOError, err, source, "failed to open source")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Header{}, errs.Wrap(errs.KindIOError, err, source, "failed to stat source")
	}
	if info.IsDir() {
		return Header{}, errs.New(errs.KindIOError, source, "source is a directory")
	}

	return s.put(ctx, name, f, opts)
}

// GetBytes returns the content of name.
func (s *Safe) GetBytes(ctx context.Context, name string, opts GetOptions) (data []byte, err error) {
	leave, err := s.enter("get", &err)
	if err != nil {
		return nil, err
	}
	defer leave()

	h, err := s.resolve(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	body, err := s.openBody(ctx, h)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err = io.ReadAll(body)
	if err != nil {
		return nil, s.readError(h, err)
	}
	s.recordBytes("get", int64(len(data)))
	return data, nil
}

// GetFile writes the content of name to dest. The content is written to a
// temporary file next to dest, synced and renamed over dest, so dest is
// never left partially written.
func (s *Safe) GetFile(ctx context.Context, name, dest string, opts GetOptions) (err error) {
	leave, err := s.enter("get", &err)
	if err != nil {
		return err
	}
	defer leave()

	h, err := s.resolve(ctx, name, opts)
	if err != nil {
		return err
	}

	body, err := s.openBody(ctx, h)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	fs := s.env.Files
	tmp, err := afero.TempFile(fs, filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, dest, "failed to create destination")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = fs.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		var readErr *errs.Error
		if errors.As(err, &readErr) {
			return err
		}
		return errs.Wrap(errs.KindIOError, err, dest, "failed to write destination")
	}
	if err := tmp.Sync(); err != nil {
		return errs.Wrap(errs.KindIOError, err, dest, "failed to sync destination")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindIOError, err, dest, "failed to close destination")
	}
	if err := fs.Rename(tmp.Name(), dest); err != nil {
		return errs.Wrap(errs.KindIOError, err, dest, "failed to rename destination")
	}
	committed = true

	s.recordBytes("get", n)
	return nil
}

// Delete removes name. The deletion is itself a version, so it wins or
// loses against concurrent writes by fileId like any put.
func (s *Safe) Delete(ctx context.Context, name string) (err error) {
	leave, err := s.enter("delete", &err)
	if err != nil {
		return err
	}
	defer leave()

	full, dir, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := s.require(PermissionWrite, "delete"); err != nil {
		return err
	}

	unlock := s.names.Lock(full)
	defer unlock()

	current, found, err := s.current(full, dir)
	if err != nil {
		return err
	}
	if !found || current.Deleted {
		return errs.New(errs.KindNotFound, full, "file")
	}

	fileID, err := newID()
	if err != nil {
		return err
	}
	tombstone := Header{
		FileID:  fileID,
		Name:    full,
		Dir:     dir,
		ModTime: s.now().UTC(),
		Creator: s.id.ID,
		Deleted: true,
	}
	return s.write(ctx, &tombstone, nil)
}

// Patch changes the content type, tags or meta of name. It writes a new
// version whose header points at the current body, so the content is not
// uploaded again. Fields left empty in opts keep their current value.
func (s *Safe) Patch(ctx context.Context, name string, opts PatchOptions) (h Header, err error) {
	leave, err := s.enter("patch", &err)
	if err != nil {
		return Header{}, err
	}
	defer leave()

	full, dir, err := cleanName(name)
	if err != nil {
		return Header{}, err
	}
	if err := validate(opts); err != nil {
		return Header{}, err
	}
	if err := s.require(PermissionWrite, "patch"); err != nil {
		return Header{}, err
	}

	unlock := s.names.Lock(full)
	defer unlock()

	current, found, err := s.current(full, dir)
	if err != nil {
		return Header{}, err
	}
	if !found || current.Deleted {
		return Header{}, errs.New(errs.KindNotFound, full, "file")
	}

	fileID, err := newID()
	if err != nil {
		return Header{}, err
	}
	h = current
	h.FileID = fileID
	h.ModTime = s.now().UTC()
	h.Creator = s.id.ID
	if opts.ContentType != "" {
		h.ContentType = opts.ContentType
	}
	if opts.Tags != nil {
		h.Tags = opts.Tags
	}
	if opts.Meta != nil {
		h.Meta = opts.Meta
	}

	if err := s.write(ctx, &h, nil); err != nil {
		return Header{}, err
	}

	logger.Debug("Patched %s: file=%s content=%s", full, fileID, h.ContentID)
	return h, nil
}

func (s *Safe) put(ctx context.Context, name string, body io.Reader, opts PutOptions) (Header, error) {
	full, dir, err := cleanName(name)
	if err != nil {
		return Header{}, err
	}
	if err := validate(opts); err != nil {
		return Header{}, err
	}
	if err := s.require(PermissionWrite, "put"); err != nil {
		return Header{}, err
	}

	unlock := s.names.Lock(full)
	defer unlock()

	if !opts.Overwrite {
		current, found, err := s.current(full, dir)
		if err != nil {
			return Header{}, err
		}
		if found && !current.Deleted {
			return Header{}, errs.New(errs.KindAlreadyExists, full, "file")
		}
	}

	// fileIds are allocated under the name lock, so the order of puts to
	// a name is the order of their fileIds.
	fileID, err := newID()
	if err != nil {
		return Header{}, err
	}
	contentID, err := newID()
	if err != nil {
		return Header{}, err
	}

	h := Header{
		FileID:      fileID,
		Name:        full,
		Dir:         dir,
		ModTime:     s.now().UTC(),
		ContentType: opts.ContentType,
		Tags:        opts.Tags,
		Meta:        opts.Meta,
		Zip:         opts.Zip,
		Creator:     s.id.ID,
		ContentID:   contentID,
	}
	if err := s.write(ctx, &h, body); err != nil {
		return Header{}, err
	}

	logger.Debug("Put %s: file=%s size=%d", full, fileID, h.Size)
	return h, nil
}

// write runs the journaled write of one version. body is nil for
// deletions and patches, whose header reuses an existing body or none.
func (s *Safe) write(ctx context.Context, h *Header, body io.Reader) error {
	done := beginWrite(h.FileID)
	defer done()

	// Only a body uploaded by this write may be rolled back with it
	owned := *h
	if body == nil {
		owned.ContentID = ""
	}

	// Step 1: journal
	err := s.env.DB.Update(func(txn *badger.Txn) error {
		return db.SetJSON(txn, s.index.journalKey(h.FileID), journalRecord{
			FileID:    h.FileID,
			ContentID: owned.ContentID,
			Name:      h.Name,
		})
	})
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, h.Name, "failed to write journal")
	}
	if s.interrupted("journal") {
		return s.interruptError(h, "journal")
	}

	// Step 2: body
	if body != nil {
		size, hash, contentType, err := s.writeBody(ctx, h.ContentID, body, h.Zip)
		if err != nil {
			s.abort(ctx, owned)
			return errs.Wrap(errs.KindIOError, err, h.Name, "failed to write content")
		}
		h.Size, h.Hash = size, hash
		if h.ContentType == "" {
			h.ContentType = contentType
		}
	}
	if s.interrupted("body") {
		return s.interruptError(h, "body")
	}

	// Step 3: header
	if err := s.writeHeader(ctx, *h); err != nil {
		s.abort(ctx, owned)
		return errs.Wrap(errs.KindIOError, err, h.Name, "failed to write header")
	}
	if s.interrupted("header") {
		return s.interruptError(h, "header")
	}

	// Step 4: commit. On failure the journal record stays and recovery
	// rolls the write forward.
	if _, err := s.commit(*h, true); err != nil {
		return errs.Wrap(errs.KindIOError, err, h.Name, "failed to update index")
	}
	if s.interrupted("commit") {
		return s.interruptError(h, "commit")
	}

	// Step 5: collect the superseded version
	if err := collectGarbage(ctx, s.env.DB, s.store, s.layout, s.index); err != nil {
		logger.Warn("Collecting old versions of %s: %v", h.Name, err)
	}
	return nil
}

// commit applies h to the index and, for local writes, drops its journal
// record in the same transaction.
func (s *Safe) commit(h Header, journaled bool) (bool, error) {
	for attempt := 1; ; attempt++ {
		var changed bool
		err := s.env.DB.Update(func(txn *badger.Txn) error {
			var err error
			if changed, err = s.index.apply(txn, h); err != nil {
				return err
			}
			if journaled {
				return txn.Delete(s.index.journalKey(h.FileID))
			}
			return nil
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 3 {
			continue
		}
		return changed, err
	}
}

// abort undoes a write that failed before its commit.
func (s *Safe) abort(ctx context.Context, h Header) {
	err := deleteVersion(ctx, s.store, s.layout, gcRecord{FileID: h.FileID, ContentID: h.ContentID})
	if err != nil {
		logger.Warn("Cleaning up failed write of %s: %v (left for recovery)", h.Name, err)
		return
	}
	err = s.env.DB.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.index.journalKey(h.FileID))
	})
	if err != nil {
		logger.Warn("Clearing journal of %s: %v", h.Name, err)
	}
}

func (s *Safe) interruptError(h *Header, stage string) error {
	return errs.Wrap(errs.KindIOError, errInterrupted, h.Name, "write stopped after %s", stage)
}

func (s *Safe) writeBody(ctx context.Context, contentID string, body io.Reader, zip bool) (size int64, hash, contentType string, err error) {
	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", "", err
	}
	contentType = mimetype.Detect(head).String()

	hasher := newHasher()
	src := io.TeeReader(br, hasher)

	pr, pw := io.Pipe()
	uploaded := make(chan error, 1)
	go func() {
		err := s.store.Put(ctx, s.layout.data(contentID), pr, -1)
		// Unblocks the encoder if the store gave up before EOF
		_ = pr.CloseWithError(err)
		uploaded <- err
	}()

	size, err = encodeBody(pw, src, s.aead, contentID, zip)
	_ = pw.CloseWithError(err)
	if uploadErr := <-uploaded; uploadErr != nil {
		return 0, "", "", uploadErr
	}
	if err != nil {
		return 0, "", "", err
	}

	s.recordBytes("put", size)
	return size, hexSum(hasher), contentType, nil
}

func (s *Safe) writeHeader(ctx context.Context, h Header) error {
	sealed, err := sealHeader(s.aead, h)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, s.layout.header(h.FileID), bytes.NewReader(sealed), int64(len(sealed)))
}

// current returns the indexed version of name.
func (s *Safe) current(full, dir string) (Header, bool, error) {
	var (
		h     Header
		found bool
	)
	err := s.env.DB.View(func(txn *badger.Txn) error {
		var err error
		h, found, err = s.index.lookup(txn, full, dir)
		return err
	})
	if err != nil {
		return Header{}, false, errs.Wrap(errs.KindIOError, err, full, "failed to read index")
	}
	return h, found, nil
}

// resolve finds the version of name to read.
func (s *Safe) resolve(ctx context.Context, name string, opts GetOptions) (Header, error) {
	if err := validate(opts); err != nil {
		return Header{}, err
	}
	if err := s.require(PermissionRead, "get"); err != nil {
		return Header{}, err
	}
	full, dir, err := cleanName(name)
	if err != nil {
		return Header{}, err
	}

	if opts.FileID != "" {
		h, err := s.readHeader(ctx, opts.FileID)
		if err != nil {
			return Header{}, err
		}
		if h.Name != full || h.Deleted {
			return Header{}, errs.New(errs.KindNotFound, full, "file version %s", opts.FileID)
		}
		return h, nil
	}

	h, found, err := s.current(full, dir)
	if err != nil {
		return Header{}, err
	}
	if !found || h.Deleted {
		return Header{}, errs.New(errs.KindNotFound, full, "file")
	}
	return h, nil
}

func (s *Safe) readError(h Header, err error) error {
	if errors.Is(err, errIntegrity) {
		return errs.Wrap(errs.KindIOError, err, h.Name, "content integrity check failed")
	}
	return errs.Wrap(errs.KindIOError, err, h.Name, "failed to read content")
}

func (s *Safe) recordBytes(operation string, n int64) {
	if s.env.Metrics != nil {
		s.env.Metrics.RecordBytes(operation, n)
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errs.Wrap(errs.KindGenerationError, err, "", "failed to generate id")
	}
	return id.String(), nil
}

func inTree(entryDir, dir string) bool {
	return dir == "" || entryDir == dir || strings.HasPrefix(entryDir, dir+"/")
}
