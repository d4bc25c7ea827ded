// Package access encodes and decodes access tokens: shareable strings that
// grant a user access to a safe at one or more storage URLs.
//
// Token Wire Format
// =================
//
//	base64url( version(1) ‖ mode(1) ‖ body )
//
// The payload is the XDR encoding (RFC 4506) of the five token fields.
//
//	mode sealed (userID set):   body = NaCl anonymous box of payload,
//	                            sealed to the user's X25519 key
//	mode plain  (userID empty): body = payload ‖ SHA-256(version ‖ mode ‖ payload)
//
// Sealed tokens can only be opened by the user they were made for; the box
// MAC authenticates the payload. Plain tokens are readable by anyone and
// only carry a digest against accidental or deliberate modification, so
// they cannot carry a key.
package access

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
	"golang.org/x/crypto/nacl/box"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/identity"
)

// Version is the current token format version.
const Version byte = 1

const (
	modePlain  byte = 0
	modeSealed byte = 1
)

// encoding rejects non-canonical trailing bits, so every character of a
// token matters.
var encoding = base64.RawURLEncoding.Strict()

// Token is the decoded content of an access token.
type Token struct {
	UserID    string   `json:"userId"`
	SafeName  string   `json:"safeName"`
	CreatorID string   `json:"creatorId"`
	URLs      []string `json:"urls"`
	AESKey    []byte   `json:"aesKey,omitempty"`
}

// payload is the XDR layout of a token.
type payload struct {
	UserID    string
	SafeName  string
	CreatorID string
	URLs      []string
	AESKey    []byte
}

// Encode builds a token for userID.
//
// With a userID the payload is sealed to that user; without one the token
// is plain and aesKey must be empty. Sealing uses an ephemeral key, so two
// encodings of the same fields differ.
func Encode(userID, safeName, creatorID string, urls []string, aesKey []byte) (string, error) {
	if safeName == "" {
		return "", errs.New(errs.KindInvalidArgument, "", "safe name is required")
	}
	if len(urls) == 0 {
		return "", errs.New(errs.KindInvalidArgument, safeName, "at least one storage url is required")
	}

	var buf bytes.Buffer
	p := payload{UserID: userID, SafeName: safeName, CreatorID: creatorID, URLs: urls, AESKey: aesKey}
	if _, err := xdr.Marshal(&buf, &p); err != nil {
		return "", errs.Wrap(errs.KindInvalidArgument, err, safeName, "failed to encode token")
	}
	body := buf.Bytes()

	if userID == "" {
		if len(aesKey) > 0 {
			return "", errs.New(errs.KindInvalidToken, safeName, "a token without user cannot carry a key")
		}
		out := append([]byte{Version, modePlain}, body...)
		sum := sha256.Sum256(out)
		return encoding.EncodeToString(append(out, sum[:]...)), nil
	}

	encPub, _, err := identity.PublicKeys(userID)
	if err != nil {
		return "", err
	}
	sealed, err := box.SealAnonymous([]byte{Version, modeSealed}, body, encPub, rand.Reader)
	if err != nil {
		return "", errs.Wrap(errs.KindGenerationError, err, safeName, "failed to seal token")
	}
	return encoding.EncodeToString(sealed), nil
}

// Decode opens token on behalf of recipient.
//
// recipient is only used for sealed tokens. Any malformed, modified or
// foreign token fails with InvalidToken.
func Decode(recipient identity.Identity, token string) (Token, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return Token{}, errs.Wrap(errs.KindInvalidToken, err, "", "malformed token")
	}
	if len(raw) < 2 {
		return Token{}, errs.New(errs.KindInvalidToken, "", "token too short")
	}
	if raw[0] != Version {
		return Token{}, errs.New(errs.KindInvalidToken, "", "unsupported token version %d", raw[0])
	}

	var body []byte
	switch raw[1] {
	case modePlain:
		if len(raw) < 2+sha256.Size {
			return Token{}, errs.New(errs.KindInvalidToken, "", "token too short")
		}
		split := len(raw) - sha256.Size
		sum := sha256.Sum256(raw[:split])
		if subtle.ConstantTimeCompare(sum[:], raw[split:]) != 1 {
			return Token{}, errs.New(errs.KindInvalidToken, "", "token digest mismatch")
		}
		body = raw[2:split]

	case modeSealed:
		body, err = open(recipient, raw[2:])
		if err != nil {
			return Token{}, err
		}

	default:
		return Token{}, errs.New(errs.KindInvalidToken, "", "unsupported token mode %d", raw[1])
	}

	// No length prefix can exceed the body, which bounds every allocation.
	var p payload
	r := bytes.NewReader(body)
	if _, err := xdr.NewDecoderLimited(r, uint(len(body))).Decode(&p); err != nil {
		return Token{}, errs.Wrap(errs.KindInvalidToken, err, "", "malformed token payload")
	}
	if r.Len() != 0 {
		return Token{}, errs.New(errs.KindInvalidToken, "", "trailing bytes in token payload")
	}

	if raw[1] == modeSealed && p.UserID != recipient.ID {
		return Token{}, errs.New(errs.KindInvalidToken, "", "token issued to another user")
	}
	if raw[1] == modePlain && (p.UserID != "" || len(p.AESKey) > 0) {
		return Token{}, errs.New(errs.KindInvalidToken, "", "plain token cannot name a user or carry a key")
	}

	t := Token{UserID: p.UserID, SafeName: p.SafeName, CreatorID: p.CreatorID, URLs: p.URLs, AESKey: p.AESKey}
	if len(t.URLs) == 0 {
		t.URLs = nil
	}
	if len(t.AESKey) == 0 {
		t.AESKey = nil
	}
	return t, nil
}

func open(recipient identity.Identity, sealed []byte) ([]byte, error) {
	if recipient.ID == "" {
		return nil, errs.New(errs.KindInvalidToken, "", "sealed token requires an identity")
	}
	encPub, _, err := identity.PublicKeys(recipient.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidToken, err, "", "invalid recipient")
	}
	encPriv, err := recipient.EncryptionKey()
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidToken, err, "", "invalid recipient")
	}

	body, ok := box.OpenAnonymous(nil, sealed, encPub, encPriv)
	if !ok {
		return nil, errs.New(errs.KindInvalidToken, "", "token cannot be opened by %s", shortID(recipient.ID))
	}
	return body, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return fmt.Sprintf("%s…", id[:8])
	}
	return id
}
