package safe

import (
	"context"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/storage"
)

func newHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(err)
	}
	return h
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// encodeBody writes src to w in the body format: optionally gzipped, then
// encrypted. It returns the number of plaintext bytes read.
func encodeBody(w io.Writer, src io.Reader, aead cipher.AEAD, contentID string, zip bool) (int64, error) {
	enc, err := newEncryptWriter(w, aead, contentID)
	if err != nil {
		return 0, err
	}

	var n int64
	if zip {
		zw := gzip.NewWriter(enc)
		if n, err = io.Copy(zw, src); err == nil {
			err = zw.Close()
		}
	} else {
		n, err = io.Copy(enc, src)
	}
	if err != nil {
		return n, err
	}
	return n, enc.Close()
}

// body streams and verifies the plaintext of one version. Size and hash
// are checked when the stream ends; a mismatch fails the final Read.
type body struct {
	source io.Closer
	r      io.Reader
	hasher hash.Hash
	read   int64
	header Header
	fail   func(error) error
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.hasher.Write(p[:n])
	b.read += int64(n)

	if errors.Is(err, io.EOF) {
		if b.read != b.header.Size || hexSum(b.hasher) != b.header.Hash {
			return n, b.fail(fmt.Errorf("content of %s does not match its header: %w", b.header.FileID, errIntegrity))
		}
		return n, io.EOF
	}
	if err != nil {
		return n, b.fail(err)
	}
	return n, nil
}

func (b *body) Close() error {
	return b.source.Close()
}

// openBody returns a verifying reader over the content of h.
func (s *Safe) openBody(ctx context.Context, h Header) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, s.layout.data(h.ContentID))
	if storage.IsNotFound(err) {
		return nil, errs.New(errs.KindNotFound, h.Name, "content")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, h.Name, "failed to read content")
	}

	var r io.Reader = newDecryptReader(rc, s.aead, h.ContentID)
	if h.Zip {
		zr, err := gzip.NewReader(r)
		if err != nil {
			_ = rc.Close()
			return nil, s.readError(h, err)
		}
		r = zr
	}

	return &body{
		source: rc,
		r:      r,
		hasher: newHasher(),
		header: h,
		fail:   func(err error) error { return s.readError(h, err) },
	}, nil
}
