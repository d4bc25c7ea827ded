package safe

import (
	"context"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/errs"
)

// GetUsers returns a snapshot of the safe's users and their permissions.
func (s *Safe) GetUsers(ctx context.Context) (users Users, err error) {
	leave, err := s.enter("get_users", &err)
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := s.require(PermissionRead, "get users"); err != nil {
		return nil, err
	}

	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return s.users.Clone(), nil
}

// SetUsers changes the permissions of users. It requires admin permission.
//
// Users set to none are removed. With Replace, users not listed are
// removed too. The creator always stays admin. New users receive the
// master key; removed users lose their key entry, which stops them from
// opening the safe but does not re-encrypt content they could already read.
func (s *Safe) SetUsers(ctx context.Context, users Users, opts SetUsersOptions) (err error) {
	leave, err := s.enter("set_users", &err)
	if err != nil {
		return err
	}
	defer leave()

	if err := s.refreshUsers(ctx); err != nil {
		return err
	}
	if err := s.require(PermissionAdmin, "set users"); err != nil {
		return err
	}
	if err := validate(opts); err != nil {
		return err
	}
	if err := validateUsers(users); err != nil {
		return err
	}

	creatorID := s.manifest.CreatorID
	if perm, ok := users[creatorID]; ok && perm != PermissionAdmin {
		return errs.New(errs.KindInvalidArgument, shortID(creatorID), "the creator must stay admin")
	}

	s.usersMu.RLock()
	current := s.users.Clone()
	s.usersMu.RUnlock()

	// Step 1: compute the change
	change := Users{}
	for userID, perm := range users {
		if userID != creatorID && current[userID] != perm {
			change[userID] = perm
		}
	}
	if opts.Replace {
		for userID := range current {
			if _, listed := users[userID]; !listed && userID != creatorID {
				change[userID] = PermissionNone
			}
		}
	}
	if len(change) == 0 {
		return nil
	}

	// Step 2: keys for users joining
	for userID, perm := range change {
		if perm != PermissionNone && current[userID] == PermissionNone {
			if err := putKey(ctx, s.store, s.layout, userID, s.masterKey); err != nil {
				return err
			}
		}
	}

	// Step 3: signed change
	signed, err := signChange(s.layout.name, s.id, change, s.now())
	if err != nil {
		return errs.Wrap(errs.KindGenerationError, err, s.layout.name, "failed to sign ACL")
	}
	if err := writeChange(ctx, s.store, s.layout, signed); err != nil {
		return errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to write ACL")
	}

	// Step 4: keys of users leaving
	for userID, perm := range change {
		if perm == PermissionNone {
			if err := s.store.Delete(ctx, s.layout.key(userID)); err != nil {
				logger.Warn("Removing key of %s from %s: %v", shortID(userID), s.layout.name, err)
			}
		}
	}

	logger.Info("Users changed: safe=%s changes=%d", s.layout.name, len(change))
	return s.refreshUsers(ctx)
}
