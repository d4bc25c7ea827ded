package safe

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// Container Layout
// ================
//
// A safe named "vault" occupies the "vault/" prefix of each of its stores:
//
//	vault/manifest.json          plain JSON Manifest
//	vault/keys/<blake2b(user)>   master key sealed to the user
//	vault/acl/<changeId>         signed permission change (JSON)
//	vault/headers/<fileId>       encrypted Header (JSON)
//	vault/data/<contentId>       encrypted, optionally gzipped body
//
// fileId, contentId and changeId are UUIDv7, so lexical order is creation
// order.

const manifestVersion = 1

// Manifest describes a safe. It is stored in clear.
type Manifest struct {
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	CreatorID   string    `json:"creatorId"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Header describes one version of a file.
type Header struct {
	// FileID identifies this version; later versions have larger ids
	FileID string `json:"fileId"`

	// Name is the full slash-separated path ("docs/report.pdf")
	Name string `json:"name"`

	// Dir is the parent directory ("docs"; "" for the root)
	Dir string `json:"dir"`

	// Size is the plaintext size in bytes
	Size int64 `json:"size"`

	// ModTime is when this version was written
	ModTime time.Time `json:"modTime"`

	// Hash is the hex blake2b-256 of the plaintext
	Hash string `json:"hash"`

	ContentType string            `json:"contentType,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`

	// Zip is set when the body was gzip-compressed before encryption
	Zip bool `json:"zip,omitempty"`

	// Creator is the identity that wrote this version
	Creator string `json:"creator"`

	// ContentID names the body object ("" for deletions)
	ContentID string `json:"contentId,omitempty"`

	// Deleted marks a tombstone
	Deleted bool `json:"deleted,omitempty"`
}

type layout struct {
	name string
}

func (l layout) manifest() string { return l.name + "/manifest.json" }
func (l layout) keysPrefix() string { return l.name + "/keys/" }
func (l layout) aclPrefix() string { return l.name + "/acl/" }
func (l layout) headersPrefix() string { return l.name + "/headers/" }
func (l layout) dataPrefix() string { return l.name + "/data/" }
func (l layout) root() string { return l.name + "/" }
func (l layout) acl(changeID string) string { return l.aclPrefix() + changeID }
func (l layout) header(fileID string) string {
	return l.headersPrefix() + fileID
}
func (l layout) data(contentID string) string {
	return l.dataPrefix() + contentID
}

func (l layout) key(userID string) string {
	sum := blake2b.Sum256([]byte(userID))
	return l.keysPrefix() + hex.EncodeToString(sum[:])
}

// scopeFor derives the database scope of a safe from its name and primary
// URL, so that equally named safes in different places never share an
// index.
func scopeFor(name, primaryURL string) string {
	sum := blake2b.Sum256([]byte(name + "\x00" + primaryURL))
	return fmt.Sprintf("%s@%s", name, hex.EncodeToString(sum[:4]))
}

// validateSafeName checks a safe name, which becomes a storage key prefix.
func validateSafeName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\@") || !db.ValidPart(name) {
		return errs.New(errs.KindInvalidArgument, name, "invalid safe name")
	}
	return nil
}

// cleanName normalizes a file path and splits it into directory and base.
func cleanName(name string) (full, dir string, err error) {
	trimmed := strings.Trim(name, "/")
	if trimmed == "" || !db.ValidPart(trimmed) || strings.Contains(trimmed, "\\") {
		return "", "", errs.New(errs.KindInvalidArgument, name, "invalid file name")
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return "", "", errs.New(errs.KindInvalidArgument, name, "invalid file name")
		}
	}

	dir = path.Dir(trimmed)
	if dir == "." {
		dir = ""
	}
	return trimmed, dir, nil
}

// cleanDir normalizes a directory path ("" is the root).
func cleanDir(dir string) (string, error) {
	trimmed := strings.Trim(dir, "/")
	if trimmed == "" || trimmed == "." {
		return "", nil
	}
	full, _, err := cleanName(trimmed)
	if err != nil {
		return "", errs.New(errs.KindInvalidArgument, dir, "invalid directory")
	}
	return full, nil
}
