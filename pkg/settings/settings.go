// Package settings implements the persisted configuration store: small
// values scoped by a node name and a key, last write wins.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// Value is a configuration item. A value typically uses one of the three
// fields; the others stay at their zero value.
type Value struct {
	S string `json:"s"`
	I int64  `json:"i"`
	B []byte `json:"b"`
}

// ParseValue decodes a value from its JSON form. Input that is not a JSON
// object is taken verbatim as a string value, so `"dark"`, `dark` and
// `{"s":"dark"}` all produce the same value.
func ParseValue(raw string) (Value, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var v Value
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return Value{}, errs.Wrap(errs.KindInvalidArgument, err, "", "invalid config value")
		}
		return v, nil
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return Value{S: s}, nil
	}
	return Value{S: raw}, nil
}

// Store persists configuration entries in the engine database.
type Store struct {
	db *db.DB
}

// New creates a Store on top of database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

func checkKey(node, key string) error {
	if key == "" {
		return errs.New(errs.KindInvalidArgument, "", "config key is required")
	}
	if !db.ValidPart(node) || !db.ValidPart(key) {
		return errs.New(errs.KindInvalidArgument, key, "invalid config key")
	}
	return nil
}

// Get returns the value stored under (node, key).
func (s *Store) Get(ctx context.Context, node, key string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	if err := checkKey(node, key); err != nil {
		return Value{}, err
	}

	var v Value
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = db.GetJSON(txn, db.Join(db.PrefixConfig, node, key), &v)
		return err
	})
	if err != nil {
		return Value{}, errs.Wrap(errs.KindIOError, err, key, "failed to read config")
	}
	if !found {
		return Value{}, errs.New(errs.KindNotFound, key, "config")
	}
	return v, nil
}

// Set stores value under (node, key), replacing any previous value.
func (s *Store) Set(ctx context.Context, node, key string, value Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(node, key); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return db.SetJSON(txn, db.Join(db.PrefixConfig, node, key), value)
	})
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, key, "failed to write config")
	}
	return nil
}

// Delete removes (node, key). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, node, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(node, key); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(db.Join(db.PrefixConfig, node, key))
	})
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, key, "failed to delete config")
	}
	return nil
}

// List returns all entries of node keyed by key.
func (s *Store) List(ctx context.Context, node string) (map[string]Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !db.ValidPart(node) {
		return nil, errs.New(errs.KindInvalidArgument, node, "invalid config node")
	}

	out := make(map[string]Value)
	err := s.db.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, db.Scope(db.PrefixConfig, node), func(key []byte, v Value) error {
			parts := db.Split(db.PrefixConfig, key)
			out[parts[len(parts)-1]] = v
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list config for node %q: %w", node, err)
	}
	return out, nil
}
