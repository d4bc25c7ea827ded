package safe

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// aclChange is one signed permission change. The permission state of a
// safe is the replay of all changes in changeId order, starting from
// {creator: admin}.
type aclChange struct {
	Users     Users     `json:"users"`
	By        string    `json:"by"`
	ModTime   time.Time `json:"modTime"`
	Signature []byte    `json:"signature"`
}

// signedACL is the message covered by a change's signature. The safe name
// binds the change to one container.
type signedACL struct {
	Safe    string `json:"safe"`
	Users   Users  `json:"users"`
	By      string `json:"by"`
	ModTime int64  `json:"modTime"`
}

func (c aclChange) message(safeName string) ([]byte, error) {
	return json.Marshal(signedACL{
		Safe:    safeName,
		Users:   c.Users,
		By:      c.By,
		ModTime: c.ModTime.UnixNano(),
	})
}

func signChange(safeName string, by identity.Identity, users Users, now time.Time) (aclChange, error) {
	key, err := by.SigningKey()
	if err != nil {
		return aclChange{}, err
	}

	change := aclChange{Users: users.Clone(), By: by.ID, ModTime: now.UTC()}
	msg, err := change.message(safeName)
	if err != nil {
		return aclChange{}, err
	}
	change.Signature = ed25519.Sign(key, msg)
	return change, nil
}

func verifyChange(safeName string, change aclChange) error {
	_, pub, err := identity.PublicKeys(change.By)
	if err != nil {
		return err
	}
	msg, err := change.message(safeName)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, change.Signature) {
		return fmt.Errorf("bad signature by %s", shortID(change.By))
	}
	return nil
}

// replayACL folds changes into the permission state. A change is applied
// only if its signature verifies and its author is the creator or was an
// admin before the change. The creator is always admin.
func replayACL(safeName, creatorID string, changes []aclChange) Users {
	state := Users{creatorID: PermissionAdmin}

	for i, change := range changes {
		if err := verifyChange(safeName, change); err != nil {
			logger.Warn("Skipping ACL change %d of %s: %v", i, safeName, err)
			continue
		}
		if change.By != creatorID && state[change.By] != PermissionAdmin {
			logger.Warn("Skipping ACL change %d of %s: %s is not admin", i, safeName, shortID(change.By))
			continue
		}

		for userID, perm := range change.Users {
			switch {
			case userID == creatorID:
			case perm == PermissionNone:
				delete(state, userID)
			default:
				state[userID] = perm
			}
		}
	}
	return state
}

// loadACL reads and replays every change in the container.
func loadACL(ctx context.Context, store storage.Store, l layout, creatorID string) (Users, error) {
	objects, err := store.List(ctx, l.aclPrefix())
	if err != nil {
		return nil, err
	}

	changes := make([]aclChange, 0, len(objects))
	for _, obj := range objects {
		data, err := storage.ReadAll(ctx, store, obj.Key)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var change aclChange
		if err := json.Unmarshal(data, &change); err != nil {
			logger.Warn("Skipping malformed ACL change %s: %v", obj.Key, err)
			continue
		}
		changes = append(changes, change)
	}

	return replayACL(l.name, creatorID, changes), nil
}

// writeChange stores a signed change under a fresh changeId.
func writeChange(ctx context.Context, store storage.Store, l layout, change aclChange) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return storage.PutBytes(ctx, store, l.acl(id.String()), data)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
