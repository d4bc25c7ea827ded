package safe

import (
	"context"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// Sync brings the local index up to date with the container and reloads
// the permissions. It returns the number of index entries that changed.
func (s *Safe) Sync(ctx context.Context, opts SyncOptions) (changes int, err error) {
	leave, err := s.enter("sync", &err)
	if err != nil {
		return 0, err
	}
	defer leave()

	if err := validate(opts); err != nil {
		return 0, err
	}
	return s.sync(ctx, opts)
}

func (s *Safe) sync(ctx context.Context, opts SyncOptions) (int, error) {
	if opts.Full {
		for _, prefix := range s.index.viewPrefixes() {
			if err := s.env.DB.DeletePrefix(prefix); err != nil {
				return 0, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to clear index")
			}
		}
	}

	if err := s.refreshUsers(ctx); err != nil {
		return 0, err
	}

	prefix := s.layout.headersPrefix()
	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return 0, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to list headers")
	}

	var seen map[string]struct{}
	err = s.env.DB.View(func(txn *badger.Txn) error {
		var err error
		seen, err = s.index.seen(txn)
		return err
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to read index")
	}

	changes := 0
	for _, obj := range objects {
		fileID := strings.TrimPrefix(obj.Key, prefix)
		if _, ok := seen[fileID]; ok || isInflight(fileID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		h, err := s.readHeader(ctx, fileID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			// collected since the listing
			continue
		case errors.Is(err, errIntegrity):
			logger.Warn("Skipping undecryptable header %s in %s", fileID, s.layout.name)
			h = Header{FileID: fileID}
		case err != nil:
			return changes, err
		}

		if h.Name == "" {
			// Marked seen so that it is not fetched again
			err = s.env.DB.Update(func(txn *badger.Txn) error {
				return txn.Set(s.index.seenKey(fileID), nil)
			})
		} else {
			var changed bool
			changed, err = s.commit(h, false)
			if changed {
				changes++
			}
		}
		if err != nil {
			return changes, errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to update index")
		}
	}

	if err := collectGarbage(ctx, s.env.DB, s.store, s.layout, s.index); err != nil {
		logger.Warn("Collecting old versions in %s: %v", s.layout.name, err)
	}

	if changes > 0 {
		logger.Debug("Synced %s: %d changes", s.layout.name, changes)
	}
	return changes, nil
}
