package safe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// Write-Ahead Journal
// ===================
//
// A put moves through these stages:
//
//	1. journal   wal:<scope>\0<fileId> = {fileId, contentId, name}
//	2. body      data/<contentId> uploaded
//	3. header    headers/<fileId> uploaded
//	4. commit    one transaction: index upsert (newest fileId wins),
//	             superseded version queued in gc:, journal record deleted
//	5. collect   superseded objects deleted, then their gc: key
//
// Every object is written atomically by its store, so after a crash the
// journal tells which stage was reached:
//
//	header exists  -> roll forward: drop the record and let the next sync
//	                  apply the header like any other remote header
//	header missing -> roll back: delete the body and drop the record
//
// Either way a name resolves to the old or the new content, never to a
// partial one.

// journalRecord is a put in progress.
type journalRecord struct {
	FileID    string `json:"fileId"`
	ContentID string `json:"contentId,omitempty"`
	Name      string `json:"name"`
}

// safeRecord is where a safe known to this database lives. Recovery at
// engine start uses it to reach containers without opening them.
type safeRecord struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

// inflight tracks fileIds whose put is running in this process, so that
// recovery triggered by another session never rolls back a live write.
var inflight = struct {
	sync.Mutex
	ids map[string]struct{}
}{ids: make(map[string]struct{})}

func beginWrite(fileID string) func() {
	inflight.Lock()
	inflight.ids[fileID] = struct{}{}
	inflight.Unlock()

	return func() {
		inflight.Lock()
		delete(inflight.ids, fileID)
		inflight.Unlock()
	}
}

func isInflight(fileID string) bool {
	inflight.Lock()
	defer inflight.Unlock()
	_, ok := inflight.ids[fileID]
	return ok
}

func rememberSafe(database *db.DB, scope string, rec safeRecord) error {
	return database.Update(func(txn *badger.Txn) error {
		return db.SetJSON(txn, db.Join(db.PrefixSafe, scope), rec)
	})
}

// Recover resolves the journal of one safe and collects its pending
// deletions. It needs no key material.
func Recover(ctx context.Context, database *db.DB, store storage.Store, name, scope string) error {
	l := layout{name: name}
	x := index{scope: scope}

	var records []journalRecord
	err := database.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, db.Scope(db.PrefixJournal, scope), func(_ []byte, r journalRecord) error {
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	for _, r := range records {
		if isInflight(r.FileID) {
			continue
		}

		hasHeader, err := storage.Exists(ctx, store, l.header(r.FileID))
		if err != nil {
			return fmt.Errorf("failed to check header %s: %w", r.FileID, err)
		}

		if hasHeader {
			logger.Info("Recovery: rolling forward %s (%s)", r.Name, r.FileID)
		} else {
			logger.Info("Recovery: rolling back %s (%s)", r.Name, r.FileID)
			if r.ContentID != "" {
				if err := store.Delete(ctx, l.data(r.ContentID)); err != nil {
					return fmt.Errorf("failed to delete body %s: %w", r.ContentID, err)
				}
			}
		}

		err = database.Update(func(txn *badger.Txn) error {
			return txn.Delete(x.journalKey(r.FileID))
		})
		if err != nil {
			return fmt.Errorf("failed to clear journal record %s: %w", r.FileID, err)
		}
	}

	return collectGarbage(ctx, database, store, l, x)
}

// collectGarbage deletes the objects of every queued version. A gc key is
// removed only after its objects are gone, so an interrupted collection is
// resumed by the next one.
func collectGarbage(ctx context.Context, database *db.DB, store storage.Store, l layout, x index) error {
	var records []gcRecord
	err := database.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, db.Scope(db.PrefixGC, x.scope), func(_ []byte, r gcRecord) error {
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to read collection queue: %w", err)
	}

	var failures []error
	for _, r := range records {
		if err := deleteVersion(ctx, store, l, r); err != nil {
			failures = append(failures, err)
			continue
		}
		err := database.Update(func(txn *badger.Txn) error {
			return txn.Delete(x.gcKey(r.FileID))
		})
		if err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to collect %d versions: %w", len(failures), errors.Join(failures...))
	}
	return nil
}

func deleteVersion(ctx context.Context, store storage.Store, l layout, r gcRecord) error {
	if r.ContentID != "" {
		if err := store.Delete(ctx, l.data(r.ContentID)); err != nil {
			return err
		}
	}
	return store.Delete(ctx, l.header(r.FileID))
}

// RecoverAll runs Recover for every safe known to the database. Safes that
// cannot be reached are logged and skipped.
func RecoverAll(ctx context.Context, database *db.DB, connector Connector) error {
	known := make(map[string]safeRecord)
	err := database.View(func(txn *badger.Txn) error {
		return db.ScanJSON(txn, []byte(db.PrefixSafe), func(key []byte, rec safeRecord) error {
			known[string(key[len(db.PrefixSafe):])] = rec
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list known safes: %w", err)
	}

	for scope, rec := range known {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending, err := hasPending(database, scope)
		if err != nil {
			return err
		}
		if !pending {
			continue
		}

		store, err := connector.Connect(ctx, rec.URLs)
		if err != nil {
			logger.Warn("Recovery: cannot reach safe %s: %v", rec.Name, err)
			continue
		}
		if err := Recover(ctx, database, store, rec.Name, scope); err != nil {
			logger.Warn("Recovery of safe %s failed: %v", rec.Name, err)
		}
		_ = store.Close()
	}
	return nil
}

func hasPending(database *db.DB, scope string) (bool, error) {
	pending := false
	err := database.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{db.Scope(db.PrefixJournal, scope), db.Scope(db.PrefixGC, scope)} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			it.Seek(prefix)
			found := it.ValidForPrefix(prefix)
			it.Close()
			if found {
				pending = true
				return nil
			}
		}
		return nil
	})
	return pending, err
}
