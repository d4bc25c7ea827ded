// Package safe implements encrypted, multi-user file containers.
//
// A safe lives in one or more object stores (the URLs of an access token)
// under a prefix named after it. The content is encrypted with a master key
// that is sealed to every user; the permission list is a chain of signed
// changes. A local index in the database mirrors the container's current
// file versions so that listings never touch storage.
//
// Sessions are *Safe values created by Create or Open and released by
// Close. The engine owns them behind Handles.
package safe

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/access"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/gc"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/storage"
)

// Handle identifies an open safe at the call boundary.
type Handle int64

// Connector opens the stores behind a token's URLs. The first URL is the
// primary.
type Connector interface {
	Connect(ctx context.Context, urls []string) (storage.Store, error)
}

// Metrics records safe operations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

// Env holds what sessions share.
type Env struct {
	// DB holds the local index, journal and collection queue
	DB *db.DB

	// Connector opens storage
	Connector Connector

	// Metrics is optional
	Metrics Metrics

	// DefaultDescription is used by Create when options carry none
	DefaultDescription string

	// GC configures the orphan sweep run on Open (and periodically when
	// GC.Interval is set)
	GC gc.Config

	// Files is the local filesystem used by PutFile and GetFile
	// (default: the OS filesystem)
	Files afero.Fs
}

// Safe is an open session.
//
// Thread Safety:
// All methods are safe for concurrent use. Operations hold a read lock on
// the session; Close takes the write lock, so it waits for operations in
// flight and every later call fails with InvalidHandle.
type Safe struct {
	mu     sync.RWMutex
	closed bool

	env       Env
	id        identity.Identity
	token     access.Token
	manifest  Manifest
	store     storage.Store
	layout    layout
	index     index
	aead      cipher.AEAD
	masterKey []byte
	collector *gc.Collector

	names keyedMutex

	usersMu sync.RWMutex
	users   Users

	now func() time.Time

	// interruptHook lets tests stop a put after a stage, as a crash would
	interruptHook func(stage string) bool
}

var errInterrupted = errors.New("interrupted")

// Create creates a container at the token's URLs and opens it.
//
// The creator must be the token's creator. users are granted their
// permission in the initial ACL, next to the creator as admin.
func Create(ctx context.Context, env Env, creator identity.Identity, token string, users Users, opts CreateOptions) (*Safe, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	// Step 1: token
	tok, err := access.Decode(creator, token)
	if err != nil {
		return nil, err
	}
	if tok.CreatorID != creator.ID {
		return nil, errs.New(errs.KindAccessDenied, tok.SafeName, "only the creator can create the safe")
	}
	if err := validateSafeName(tok.SafeName); err != nil {
		return nil, err
	}

	// Step 2: users and key
	if err := validateUsers(users); err != nil {
		return nil, err
	}
	masterKey := tok.AESKey
	switch {
	case len(masterKey) == 0:
		if masterKey, err = newMasterKey(); err != nil {
			return nil, errs.Wrap(errs.KindGenerationError, err, tok.SafeName, "failed to generate master key")
		}
	case len(masterKey) != masterKeySize:
		return nil, errs.New(errs.KindInvalidArgument, tok.SafeName, "aes key must be %d bytes", masterKeySize)
	}

	// Step 3: storage
	store, err := env.Connector.Connect(ctx, tok.URLs)
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to connect")
	}

	s, err := create(ctx, env, creator, tok, store, masterKey, users, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func create(ctx context.Context, env Env, creator identity.Identity, tok access.Token, store storage.Store, masterKey []byte, users Users, opts CreateOptions) (*Safe, error) {
	l := layout{name: tok.SafeName}
	x := index{scope: scopeFor(tok.SafeName, tok.URLs[0])}

	// Step 4: existing container
	exists, err := storage.Exists(ctx, store, l.manifest())
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to read manifest")
	}
	if exists && !opts.Wipe {
		return nil, errs.New(errs.KindAlreadyExists, tok.SafeName, "safe")
	}

	// Without a manifest anything under the prefix is left from an
	// unfinished create.
	if opts.Wipe {
		logger.Info("Wiping safe %s at %s", tok.SafeName, tok.URLs[0])
	}
	if err := storage.DeletePrefix(ctx, store, l.root()); err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to wipe")
	}
	for _, prefix := range x.prefixes() {
		if err := env.DB.DeletePrefix(prefix); err != nil {
			return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to clear local index")
		}
	}

	// Step 5: keys, initial ACL and finally the manifest, which marks the
	// container as complete
	manifest, change, err := writeContainer(ctx, env, creator, tok, store, masterKey, users, opts)
	if err != nil {
		if cleanupErr := storage.DeletePrefix(ctx, store, l.root()); cleanupErr != nil {
			logger.Warn("Cleaning up unfinished safe %s: %v", tok.SafeName, cleanupErr)
		}
		return nil, err
	}

	s, err := newSession(env, creator, tok, manifest, store, masterKey)
	if err != nil {
		return nil, err
	}
	s.users = replayACL(l.name, creator.ID, []aclChange{change})

	if err := rememberSafe(env.DB, s.index.scope, safeRecord{Name: tok.SafeName, URLs: tok.URLs}); err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to record safe")
	}

	s.collector.Start()
	logger.Info("Safe created: name=%s url=%s users=%d", tok.SafeName, tok.URLs[0], len(s.users))
	return s, nil
}

func writeContainer(ctx context.Context, env Env, creator identity.Identity, tok access.Token, store storage.Store, masterKey []byte, users Users, opts CreateOptions) (Manifest, aclChange, error) {
	l := layout{name: tok.SafeName}

	initial := users.Clone()
	initial[creator.ID] = PermissionAdmin
	for userID, perm := range initial {
		if perm == PermissionNone {
			delete(initial, userID)
			continue
		}
		if err := putKey(ctx, store, l, userID, masterKey); err != nil {
			return Manifest{}, aclChange{}, err
		}
	}

	change, err := signChange(tok.SafeName, creator, initial, time.Now())
	if err != nil {
		return Manifest{}, aclChange{}, errs.Wrap(errs.KindGenerationError, err, tok.SafeName, "failed to sign ACL")
	}
	if err := writeChange(ctx, store, l, change); err != nil {
		return Manifest{}, aclChange{}, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to write ACL")
	}

	description := opts.Description
	if description == "" {
		description = env.DefaultDescription
	}
	manifest := Manifest{
		Version:     manifestVersion,
		Name:        tok.SafeName,
		CreatorID:   creator.ID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return Manifest{}, aclChange{}, err
	}
	if err := storage.PutBytes(ctx, store, l.manifest(), data); err != nil {
		return Manifest{}, aclChange{}, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to write manifest")
	}
	return manifest, change, nil
}

// Open opens an existing container for id.
//
// The journal of the safe is recovered, then the local index is brought up
// to date with the container and orphaned bodies are swept.
func Open(ctx context.Context, env Env, id identity.Identity, token string, opts OpenOptions) (*Safe, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	tok, err := access.Decode(id, token)
	if err != nil {
		return nil, err
	}
	if err := validateSafeName(tok.SafeName); err != nil {
		return nil, err
	}

	store, err := env.Connector.Connect(ctx, tok.URLs)
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to connect")
	}

	s, err := open(ctx, env, id, tok, store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, env Env, id identity.Identity, tok access.Token, store storage.Store, opts OpenOptions) (*Safe, error) {
	l := layout{name: tok.SafeName}

	// Step 1: manifest
	data, err := storage.ReadAll(ctx, store, l.manifest())
	if storage.IsNotFound(err) {
		return nil, errs.New(errs.KindNotFound, tok.SafeName, "safe")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to read manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "malformed manifest")
	}
	if manifest.Version > manifestVersion {
		return nil, errs.New(errs.KindIOError, tok.SafeName, "unsupported manifest version %d", manifest.Version)
	}

	// Step 2: master key
	sealed, err := storage.ReadAll(ctx, store, l.key(id.ID))
	if storage.IsNotFound(err) {
		return nil, errs.New(errs.KindAuthError, tok.SafeName, "no key for identity %s", shortID(id.ID))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to read key")
	}
	masterKey, err := openKey(id, sealed)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthError, err, tok.SafeName, "cannot unwrap key")
	}

	s, err := newSession(env, id, tok, manifest, store, masterKey)
	if err != nil {
		return nil, err
	}

	// Step 3: permissions
	if err := s.refreshUsers(ctx); err != nil {
		return nil, err
	}
	if s.permission() == PermissionNone {
		return nil, errs.New(errs.KindAccessDenied, tok.SafeName, "identity %s has no access", shortID(id.ID))
	}

	// Step 4: journal, index, orphans
	if err := rememberSafe(env.DB, s.index.scope, safeRecord{Name: tok.SafeName, URLs: tok.URLs}); err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "failed to record safe")
	}
	if err := Recover(ctx, env.DB, store, l.name, s.index.scope); err != nil {
		return nil, errs.Wrap(errs.KindIOError, err, tok.SafeName, "recovery failed")
	}
	if _, err := s.sync(ctx, SyncOptions{Full: opts.ForceSync}); err != nil {
		return nil, err
	}
	if stats, err := s.collector.RunNow(ctx); err != nil {
		logger.Warn("Orphan sweep of %s failed: %v", l.name, err)
	} else if stats.DeletedCount > 0 {
		logger.Info("Orphan sweep of %s: %s", l.name, stats.Summary())
	}

	s.collector.Start()
	logger.Info("Safe opened: name=%s url=%s permission=%s", tok.SafeName, tok.URLs[0], s.permission())
	return s, nil
}

func newSession(env Env, id identity.Identity, tok access.Token, manifest Manifest, store storage.Store, masterKey []byte) (*Safe, error) {
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthError, err, tok.SafeName, "invalid master key")
	}

	if env.Files == nil {
		env.Files = afero.NewOsFs()
	}

	s := &Safe{
		env:       env,
		id:        id,
		token:     tok,
		manifest:  manifest,
		store:     store,
		layout:    layout{name: tok.SafeName},
		index:     index{scope: scopeFor(tok.SafeName, tok.URLs[0])},
		aead:      aead,
		masterKey: masterKey,
		users:     Users{},
		now:       time.Now,
	}
	s.collector = gc.NewCollector(gc.SourceFunc(s.referencedBodies), store, s.layout.dataPrefix(), env.GC)
	return s, nil
}

// Close releases the session. It waits for operations in flight; a second
// Close fails with InvalidHandle.
func (s *Safe) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.New(errs.KindInvalidHandle, s.layout.name, "safe already closed")
	}
	s.closed = true

	if err := s.collector.Stop(ctx); err != nil {
		logger.Warn("Stopping collector of %s: %v", s.layout.name, err)
	}
	if err := s.store.Close(); err != nil {
		return errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to close storage")
	}

	logger.Info("Safe closed: name=%s", s.layout.name)
	return nil
}

// Name returns the safe name.
func (s *Safe) Name() string {
	return s.layout.name
}

// Manifest returns the container manifest.
func (s *Safe) Manifest() Manifest {
	return s.manifest
}

// Identity returns the identity the session was opened with.
func (s *Safe) Identity() identity.Identity {
	return s.id
}

// enter starts an operation. The returned function ends it and records
// its metrics.
func (s *Safe) enter(operation string, errp *error) (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errs.New(errs.KindInvalidHandle, s.layout.name, "safe is closed")
	}

	start := time.Now()
	return func() {
		if s.env.Metrics != nil {
			s.env.Metrics.ObserveOperation(operation, time.Since(start), *errp)
		}
		s.mu.RUnlock()
	}, nil
}

func (s *Safe) permission() Permission {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return s.users[s.id.ID]
}

func (s *Safe) require(required Permission, operation string) error {
	if !s.permission().Allows(required) {
		return errs.New(errs.KindAccessDenied, s.layout.name, "%s requires %s permission", operation, required)
	}
	return nil
}

func (s *Safe) refreshUsers(ctx context.Context) error {
	users, err := loadACL(ctx, s.store, s.layout, s.manifest.CreatorID)
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, s.layout.name, "failed to read ACL")
	}

	s.usersMu.Lock()
	s.users = users
	s.usersMu.Unlock()
	return nil
}

func (s *Safe) interrupted(stage string) bool {
	return s.interruptHook != nil && s.interruptHook(stage)
}

// referencedBodies lists the data objects the orphan sweep must keep.
func (s *Safe) referencedBodies(context.Context) (map[string]struct{}, error) {
	var ids map[string]struct{}
	err := s.env.DB.View(func(txn *badger.Txn) error {
		var err error
		ids, err = s.index.contentIDs(txn)
		return err
	})
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(ids))
	for id := range ids {
		keys[s.layout.data(id)] = struct{}{}
	}
	return keys, nil
}

func putKey(ctx context.Context, store storage.Store, l layout, userID string, masterKey []byte) error {
	sealed, err := sealKey(userID, masterKey)
	if err != nil {
		return errs.Wrap(errs.KindGenerationError, err, userID, "failed to seal key")
	}
	if err := storage.PutBytes(ctx, store, l.key(userID), sealed); err != nil {
		return errs.Wrap(errs.KindIOError, err, userID, "failed to write key")
	}
	return nil
}

func validateUsers(users Users) error {
	for userID, perm := range users {
		if _, _, err := identity.PublicKeys(userID); err != nil {
			return errs.New(errs.KindInvalidArgument, userID, "invalid user id")
		}
		if perm < PermissionNone || perm > PermissionAdmin {
			return errs.New(errs.KindInvalidArgument, userID, "invalid permission %d", int(perm))
		}
	}
	return nil
}

func (s *Safe) String() string {
	return fmt.Sprintf("safe(%s@%s)", s.layout.name, s.token.URLs[0])
}
