package safe

import (
	"path"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittosafe/pkg/db"
)

// index is the local view of a safe's current file versions, kept in the
// database under the safe's scope. Superseded versions and their objects
// are queued for collection.
type index struct {
	scope string
}

// gcRecord is a superseded version waiting for its objects to be deleted.
type gcRecord struct {
	FileID    string `json:"fileId"`
	ContentID string `json:"contentId,omitempty"`
}

func (x index) entryKey(dir, name string) []byte {
	return db.Join(db.PrefixIndex, x.scope, dir, path.Base(name))
}

func (x index) dirScope(dir string) []byte {
	return db.Scope(db.PrefixIndex, x.scope, dir)
}

// treeScope covers dir and every directory below it. For a non-root dir
// the range also matches siblings sharing the prefix ("docs2" for "docs"),
// which callers filter out.
func (x index) treeScope(dir string) []byte {
	if dir == "" {
		return db.Scope(db.PrefixIndex, x.scope)
	}
	return db.Join(db.PrefixIndex, x.scope, dir)
}

func (x index) seenKey(fileID string) []byte {
	return db.Join(db.PrefixSeen, x.scope, fileID)
}

func (x index) journalKey(fileID string) []byte {
	return db.Join(db.PrefixJournal, x.scope, fileID)
}

func (x index) gcKey(fileID string) []byte {
	return db.Join(db.PrefixGC, x.scope, fileID)
}

// viewPrefixes lists the ranges rebuilt by a full sync.
func (x index) viewPrefixes() [][]byte {
	return [][]byte{
		db.Scope(db.PrefixIndex, x.scope),
		db.Scope(db.PrefixSeen, x.scope),
	}
}

// prefixes lists every database range owned by the safe.
func (x index) prefixes() [][]byte {
	return append(x.viewPrefixes(),
		db.Scope(db.PrefixJournal, x.scope),
		db.Scope(db.PrefixGC, x.scope),
	)
}

// lookup returns the current version of name, deleted or not.
func (x index) lookup(txn *badger.Txn, name, dir string) (Header, bool, error) {
	var h Header
	found, err := db.GetJSON(txn, x.entryKey(dir, name), &h)
	return h, found, err
}

// apply records h as seen and makes it current if its fileId is newer than
// the current version's. The version that loses is queued for collection,
// without its body when the winner shares it. It reports whether the
// current version changed.
func (x index) apply(txn *badger.Txn, h Header) (bool, error) {
	if err := txn.Set(x.seenKey(h.FileID), nil); err != nil {
		return false, err
	}

	current, found, err := x.lookup(txn, h.Name, h.Dir)
	if err != nil {
		return false, err
	}

	switch {
	case found && current.FileID == h.FileID:
		return false, nil
	case found && current.FileID > h.FileID:
		return false, x.queue(txn, h, current.ContentID)
	}

	if err := db.SetJSON(txn, x.entryKey(h.Dir, h.Name), h); err != nil {
		return false, err
	}
	if found {
		if err := x.queue(txn, current, h.ContentID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (x index) queue(txn *badger.Txn, h Header, keep string) error {
	rec := gcRecord{FileID: h.FileID, ContentID: h.ContentID}
	if rec.ContentID == keep {
		rec.ContentID = ""
	}
	return db.SetJSON(txn, x.gcKey(h.FileID), rec)
}

// seen returns the set of fileIds already applied.
func (x index) seen(txn *badger.Txn) (map[string]struct{}, error) {
	prefix := db.Scope(db.PrefixSeen, x.scope)
	out := make(map[string]struct{})
	err := db.Scan(txn, prefix, func(key, _ []byte) error {
		out[string(key[len(prefix):])] = struct{}{}
		return nil
	})
	return out, err
}

// contentIDs returns the bodies referenced by current versions and by
// writes still in the journal.
func (x index) contentIDs(txn *badger.Txn) (map[string]struct{}, error) {
	out := make(map[string]struct{})

	err := db.ScanJSON(txn, db.Scope(db.PrefixIndex, x.scope), func(_ []byte, h Header) error {
		if h.ContentID != "" {
			out[h.ContentID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = db.ScanJSON(txn, db.Scope(db.PrefixJournal, x.scope), func(_ []byte, r journalRecord) error {
		if r.ContentID != "" {
			out[r.ContentID] = struct{}{}
		}
		return nil
	})
	return out, err
}
