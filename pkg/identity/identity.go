// Package identity manages user identities: a pair of key pairs (X25519 for
// encryption, Ed25519 for signatures) plus descriptive attributes.
//
// The public id and the private material are both URL-safe base64 strings:
//
//	id      = base64url(x25519 public  ‖ ed25519 public)
//	private = base64url(x25519 private ‖ ed25519 seed)
//
// so an identity can be rebuilt from its private string alone.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/dittosafe/pkg/errs"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const keySize = 32

// Identity is a user of the engine.
type Identity struct {
	// ID is the public identifier, immutable once created
	ID string `json:"id"`

	// Nick is the display name
	Nick string `json:"nick"`

	// Email is optional contact information
	Email string `json:"email,omitempty"`

	// ModTime is the last modification time, strictly increasing
	ModTime time.Time `json:"modTime"`

	// Private holds the secret key material
	Private string `json:"private"`

	// Avatar is an optional picture
	Avatar []byte `json:"avatar,omitempty"`

	// Version is the stored revision, used for conflict detection
	Version uint64 `json:"version"`
}

// New generates an identity with fresh key pairs.
func New(nick string) (Identity, error) {
	return generate(rand.Reader, nick)
}

func generate(entropy io.Reader, nick string) (Identity, error) {
	_, encPriv, err := box.GenerateKey(entropy)
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindGenerationError, err, nick, "failed to generate encryption key")
	}
	_, signPriv, err := ed25519.GenerateKey(entropy)
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindGenerationError, err, nick, "failed to generate signing key")
	}

	material := make([]byte, 0, 2*keySize)
	material = append(material, encPriv[:]...)
	material = append(material, signPriv.Seed()...)

	return FromPrivate(nick, base64.RawURLEncoding.EncodeToString(material))
}

// FromPrivate rebuilds an identity from its private material.
func FromPrivate(nick, private string) (Identity, error) {
	encPriv, signPriv, err := decodePrivate(private)
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindGenerationError, err, nick, "invalid private key material")
	}

	encPub, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindGenerationError, err, nick, "failed to derive public key")
	}

	pub := make([]byte, 0, 2*keySize)
	pub = append(pub, encPub...)
	pub = append(pub, signPriv.Public().(ed25519.PublicKey)...)

	return Identity{
		ID:      base64.RawURLEncoding.EncodeToString(pub),
		Nick:    nick,
		ModTime: time.Now().UTC(),
		Private: private,
	}, nil
}

func decodePrivate(private string) (*[keySize]byte, ed25519.PrivateKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(private)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) != 2*keySize {
		return nil, nil, fmt.Errorf("expected %d bytes, got %d", 2*keySize, len(raw))
	}

	var enc [keySize]byte
	copy(enc[:], raw[:keySize])
	return &enc, ed25519.NewKeyFromSeed(raw[keySize:]), nil
}

// EncryptionKey returns the X25519 private key.
func (i Identity) EncryptionKey() (*[keySize]byte, error) {
	enc, _, err := decodePrivate(i.Private)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthError, err, i.ID, "invalid private key material")
	}
	return enc, nil
}

// SigningKey returns the Ed25519 private key.
func (i Identity) SigningKey() (ed25519.PrivateKey, error) {
	_, sign, err := decodePrivate(i.Private)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthError, err, i.ID, "invalid private key material")
	}
	return sign, nil
}

// Public returns a copy without private material.
func (i Identity) Public() Identity {
	i.Private = ""
	return i
}

// Verify checks that the private material matches the id.
func (i Identity) Verify() error {
	derived, err := FromPrivate(i.Nick, i.Private)
	if err != nil {
		return err
	}
	if derived.ID != i.ID {
		return errs.New(errs.KindInvalidArgument, i.ID, "private key does not match identity")
	}
	return nil
}

// PublicKeys splits a public id into its encryption and signing keys.
func PublicKeys(id string) (*[keySize]byte, ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) != 2*keySize {
		return nil, nil, errs.New(errs.KindInvalidArgument, id, "malformed identity id")
	}

	var enc [keySize]byte
	copy(enc[:], raw[:keySize])
	sign := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(sign, raw[keySize:])
	return &enc, sign, nil
}
