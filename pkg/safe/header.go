package safe

import (
	"cmp"
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/storage"
)

func headerAAD(fileID string) string {
	return "header:" + fileID
}

func sealHeader(aead cipher.AEAD, h Header) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return sealBlob(aead, headerAAD(h.FileID), data)
}

func openHeader(aead cipher.AEAD, fileID string, sealed []byte) (Header, error) {
	data, err := openBlob(aead, headerAAD(fileID), sealed)
	if err != nil {
		return Header{}, err
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("malformed header: %w", errIntegrity)
	}
	if h.FileID != fileID {
		return Header{}, errIntegrity
	}
	return h, nil
}

// readHeader fetches and decrypts headers/<fileID>.
func (s *Safe) readHeader(ctx context.Context, fileID string) (Header, error) {
	sealed, err := storage.ReadAll(ctx, s.store, s.layout.header(fileID))
	if storage.IsNotFound(err) {
		return Header{}, errs.New(errs.KindNotFound, fileID, "file version")
	}
	if err != nil {
		return Header{}, errs.Wrap(errs.KindIOError, err, fileID, "failed to read header")
	}

	h, err := openHeader(s.aead, fileID, sealed)
	if err != nil {
		return Header{}, errs.Wrap(errs.KindIOError, err, fileID, "cannot decrypt header")
	}
	return h, nil
}

// matches applies the ListOptions filters.
func matches(h Header, opts ListOptions) bool {
	base := path.Base(h.Name)
	if opts.Prefix != "" && !strings.HasPrefix(base, opts.Prefix) {
		return false
	}
	if opts.Suffix != "" && !strings.HasSuffix(base, opts.Suffix) {
		return false
	}

	if ct := opts.ContentType; ct != "" {
		mediaType, _, _ := strings.Cut(h.ContentType, ";")
		if strings.HasSuffix(ct, "/") {
			if !strings.HasPrefix(mediaType, ct) {
				return false
			}
		} else if mediaType != ct {
			return false
		}
	}

	for _, tag := range opts.Tags {
		if !slices.Contains(h.Tags, tag) {
			return false
		}
	}

	if !opts.After.IsZero() && !h.ModTime.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !h.ModTime.Before(opts.Before) {
		return false
	}
	return true
}

func sortHeaders(entries []Header, orderBy string, reverse bool) {
	byName := func(a, b Header) int { return strings.Compare(a.Name, b.Name) }

	compare := byName
	switch orderBy {
	case OrderByModTime:
		compare = func(a, b Header) int {
			return cmp.Or(a.ModTime.Compare(b.ModTime), byName(a, b))
		}
	case OrderBySize:
		compare = func(a, b Header) int {
			return cmp.Or(cmp.Compare(a.Size, b.Size), byName(a, b))
		}
	}

	if reverse {
		forward := compare
		compare = func(a, b Header) int { return forward(b, a) }
	}
	slices.SortFunc(entries, compare)
}
