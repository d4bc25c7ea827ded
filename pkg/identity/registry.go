package identity

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// Registry persists identities in the engine database.
//
// Updates use optimistic concurrency: the caller passes back the Version it
// read, and the update fails with a Conflict if another writer got there
// first.
type Registry struct {
	db  *db.DB
	now func() time.Time
}

// NewRegistry creates a registry on top of database.
func NewRegistry(database *db.DB) *Registry {
	return &Registry{
		db:  database,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func key(id string) []byte {
	return db.Join(db.PrefixIdentity, id)
}

// nextModTime returns a time strictly after prev.
func (r *Registry) nextModTime(prev time.Time) time.Time {
	now := r.now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

// Create generates an identity and stores it.
func (r *Registry) Create(ctx context.Context, nick string) (Identity, error) {
	id, err := New(nick)
	if err != nil {
		return Identity{}, err
	}
	return r.Put(ctx, id)
}

// Get returns the identity with the given id.
func (r *Registry) Get(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if id == "" || !db.ValidPart(id) {
		return Identity{}, errs.New(errs.KindNotFound, id, "identity")
	}

	var out Identity
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = db.GetJSON(txn, key(id), &out)
		return err
	})
	if err != nil {
		return Identity{}, errs.Wrap(errs.KindIOError, err, id, "failed to read identity")
	}
	if !found {
		return Identity{}, errs.New(errs.KindNotFound, id, "identity")
	}
	return out, nil
}

// Update stores a modified identity.
//
// identity.Version must equal the stored version, otherwise Update fails
// with a Conflict. On success the returned identity carries the bumped
// version and a ModTime strictly greater than the previous one.
func (r *Registry) Update(ctx context.Context, identity Identity) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	var out Identity
	err := r.db.Update(func(txn *badger.Txn) error {
		var stored Identity
		found, err := db.GetJSON(txn, key(identity.ID), &stored)
		if err != nil {
			return err
		}
		if !found {
			return errs.New(errs.KindNotFound, identity.ID, "identity")
		}
		if stored.Version != identity.Version {
			return errs.New(errs.KindConflict, identity.ID, "identity was modified (version %d, expected %d)",
				stored.Version, identity.Version)
		}
		if stored.Private != identity.Private {
			return errs.New(errs.KindInvalidArgument, identity.ID, "identity keys are immutable")
		}

		out = identity
		out.ModTime = r.nextModTime(stored.ModTime)
		out.Version = stored.Version + 1
		return db.SetJSON(txn, key(out.ID), out)
	})
	if err != nil {
		return Identity{}, translate(err, identity.ID)
	}

	logger.Debug("Identity updated: id=%s version=%d", out.ID, out.Version)
	return out, nil
}

// Put inserts or replaces an identity regardless of its version.
//
// The private material must match the id. ModTime is set to a time
// strictly after the stored one.
func (r *Registry) Put(ctx context.Context, identity Identity) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := identity.Verify(); err != nil {
		return Identity{}, err
	}

	var out Identity
	err := r.db.Update(func(txn *badger.Txn) error {
		var stored Identity
		found, err := db.GetJSON(txn, key(identity.ID), &stored)
		if err != nil {
			return err
		}

		out = identity
		if found {
			out.ModTime = r.nextModTime(stored.ModTime)
			out.Version = stored.Version + 1
		} else {
			out.ModTime = r.now()
			out.Version = 1
		}
		return db.SetJSON(txn, key(out.ID), out)
	})
	if err != nil {
		return Identity{}, translate(err, identity.ID)
	}

	logger.Debug("Identity stored: id=%s nick=%s version=%d", out.ID, out.Nick, out.Version)
	return out, nil
}

// List returns all identities ordered by id.
func (r *Registry) List(ctx context.Context) ([]Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []Identity{}
	err := r.db.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, db.Scope(db.PrefixIdentity), func(_ []byte, id Identity) error {
			out = append(out, id)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, "", "failed to list identities")
	}
	return out, nil
}

func translate(err error, id string) error {
	if errors.Is(err, badger.ErrConflict) {
		return errs.New(errs.KindConflict, id, "concurrent identity update")
	}
	return errs.Wrap(errs.KindIOError, err, id, "failed to store identity")
}
