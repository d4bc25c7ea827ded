package safe

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"

	"github.com/marmos91/dittosafe/pkg/identity"
)

// Encryption Layout
// =================
//
// Every safe has a random 256-bit master key. The key never leaves the
// container in clear: keys/<blake2b(userId)> holds it sealed to each user's
// X25519 key (NaCl anonymous box).
//
// Headers are sealed in one piece with AES-256-GCM:
//
//	nonce(12) ‖ ciphertext ‖ tag(16)          AAD = "header:" ‖ fileId
//
// Bodies are cut into 64 KiB chunks so that large files stream:
//
//	noncePrefix(8) ‖ { len(4, big endian) ‖ sealed chunk }*
//
// chunk i uses nonce = noncePrefix ‖ uint32(i) and
// AAD = "data:" ‖ contentId ‖ last, where last is 1 only for the final
// chunk. Reordering, dropping or appending chunks fails authentication.

const (
	masterKeySize = 32
	chunkSize     = 64 * 1024
	noncePrefix   = 8
)

var errIntegrity = errors.New("integrity check failed")

func newMasterKey() ([]byte, error) {
	key := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// hashHex returns the hex blake2b-256 digest of data.
func hashHex(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sealKey seals the master key to the user's encryption key.
func sealKey(userID string, masterKey []byte) ([]byte, error) {
	encPub, _, err := identity.PublicKeys(userID)
	if err != nil {
		return nil, err
	}
	return box.SealAnonymous(nil, masterKey, encPub, rand.Reader)
}

// openKey opens a sealed master key with the identity's private key.
func openKey(id identity.Identity, sealed []byte) ([]byte, error) {
	encPub, _, err := identity.PublicKeys(id.ID)
	if err != nil {
		return nil, err
	}
	encPriv, err := id.EncryptionKey()
	if err != nil {
		return nil, err
	}
	key, ok := box.OpenAnonymous(nil, sealed, encPub, encPriv)
	if !ok || len(key) != masterKeySize {
		return nil, errIntegrity
	}
	return key, nil
}

// sealBlob encrypts a small object in one piece.
func sealBlob(aead cipher.AEAD, aad string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(aad)), nil
}

// openBlob decrypts an object sealed by sealBlob.
func openBlob(aead cipher.AEAD, aad string, sealed []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errIntegrity
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(aad))
	if err != nil {
		return nil, errIntegrity
	}
	return plain, nil
}

func chunkNonce(prefix []byte, counter uint32) []byte {
	nonce := make([]byte, 12)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefix:], counter)
	return nonce
}

func chunkAAD(contentID string, last bool) []byte {
	aad := []byte("data:" + contentID)
	if last {
		return append(aad, 1)
	}
	return append(aad, 0)
}

// encryptWriter seals everything written to it into the chunked body
// format. Close writes the final chunk and must be called.
type encryptWriter struct {
	w         io.Writer
	aead      cipher.AEAD
	contentID string
	prefix    []byte
	counter   uint32
	buf       []byte
	started   bool
}

func newEncryptWriter(w io.Writer, aead cipher.AEAD, contentID string) (*encryptWriter, error) {
	prefix := make([]byte, noncePrefix)
	if _, err := io.ReadFull(rand.Reader, prefix); err != nil {
		return nil, err
	}
	return &encryptWriter{
		w:         w,
		aead:      aead,
		contentID: contentID,
		prefix:    prefix,
		buf:       make([]byte, 0, 2*chunkSize),
	}, nil
}

func (e *encryptWriter) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	// Hold back at least one byte: the final chunk is only known at Close
	for len(e.buf) > chunkSize {
		if err := e.flush(e.buf[:chunkSize], false); err != nil {
			return 0, err
		}
		e.buf = append(e.buf[:0], e.buf[chunkSize:]...)
	}
	return len(p), nil
}

func (e *encryptWriter) Close() error {
	return e.flush(e.buf, true)
}

func (e *encryptWriter) flush(chunk []byte, last bool) error {
	if !e.started {
		if _, err := e.w.Write(e.prefix); err != nil {
			return err
		}
		e.started = true
	}

	sealed := e.aead.Seal(nil, chunkNonce(e.prefix, e.counter), chunk, chunkAAD(e.contentID, last))
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(sealed)))
	if _, err := e.w.Write(size[:]); err != nil {
		return err
	}
	if _, err := e.w.Write(sealed); err != nil {
		return err
	}
	e.counter++
	return nil
}

// decryptReader opens a chunked body.
type decryptReader struct {
	r         *bufio.Reader
	aead      cipher.AEAD
	contentID string
	prefix    []byte
	counter   uint32
	plain     []byte
	done      bool
}

func newDecryptReader(r io.Reader, aead cipher.AEAD, contentID string) *decryptReader {
	return &decryptReader{
		r:         bufio.NewReaderSize(r, chunkSize+64),
		aead:      aead,
		contentID: contentID,
	}
}

func (d *decryptReader) Read(p []byte) (int, error) {
	for len(d.plain) == 0 {
		if d.done {
			return 0, io.EOF
		}
		if err := d.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.plain)
	d.plain = d.plain[n:]
	return n, nil
}

func (d *decryptReader) next() error {
	if d.prefix == nil {
		d.prefix = make([]byte, noncePrefix)
		if _, err := io.ReadFull(d.r, d.prefix); err != nil {
			return fmt.Errorf("truncated body: %w", errIntegrity)
		}
	}

	var size [4]byte
	if _, err := io.ReadFull(d.r, size[:]); err != nil {
		return fmt.Errorf("truncated body: %w", errIntegrity)
	}
	n := binary.BigEndian.Uint32(size[:])
	if n < uint32(d.aead.Overhead()) || n > chunkSize+uint32(d.aead.Overhead()) {
		return fmt.Errorf("bad chunk size %d: %w", n, errIntegrity)
	}

	sealed := make([]byte, n)
	if _, err := io.ReadFull(d.r, sealed); err != nil {
		return fmt.Errorf("truncated body: %w", errIntegrity)
	}

	_, peekErr := d.r.Peek(1)
	last := errors.Is(peekErr, io.EOF)
	if peekErr != nil && !last {
		return peekErr
	}

	plain, err := d.aead.Open(sealed[:0], chunkNonce(d.prefix, d.counter), sealed, chunkAAD(d.contentID, last))
	if err != nil {
		return fmt.Errorf("chunk %d: %w", d.counter, errIntegrity)
	}
	d.counter++
	d.plain = plain
	d.done = last
	return nil
}
