// Package engine is the explicit context object of DittoSafe: it owns the
// database, the durable registries, the storage factory and the handles of
// open safes.
//
// Lifecycle:
//  1. Creation: New() with a loaded configuration
//  2. Startup: Start() opens the database, recovers interrupted writes of
//     every known safe and starts the metrics endpoint if configured
//  3. Use: CreateSafe/OpenSafe return handles; Safe() resolves them
//  4. Shutdown: Stop() closes every session, then the database
//
// Calls made before Start or after Stop fail with NotStarted. An engine can
// be started again after Stop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/db"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/gc"
	"github.com/marmos91/dittosafe/pkg/identity"
	"github.com/marmos91/dittosafe/pkg/metrics"
	"github.com/marmos91/dittosafe/pkg/safe"
	"github.com/marmos91/dittosafe/pkg/settings"
	"github.com/marmos91/dittosafe/pkg/storage/factory"
)

// cacheDir is the app dir subdirectory removed by FactoryReset.
const cacheDir = "cache"

// Option customizes an Engine.
type Option func(*Engine)

// WithFiles sets the local filesystem used by PutFile, GetFile and the
// app cache (default: the OS filesystem).
func WithFiles(fs afero.Fs) Option {
	return func(e *Engine) { e.files = fs }
}

// Engine owns the engine-wide state.
//
// Thread safety:
// Engine is safe for concurrent use. Lifecycle methods take the write lock;
// every other method holds the read lock while it runs, so Stop waits for
// safes being created or opened. Operations on an open safe do not hold
// the engine lock; Stop closes the session under them instead, which waits
// for them to finish.
type Engine struct {
	config *config.Config
	files  afero.Fs

	mu         sync.RWMutex
	started    bool
	db         *db.DB
	settings   *settings.Store
	identities *identity.Registry
	env        safe.Env
	sessions   *sessions

	metricsServer *metrics.Server
	metricsCancel context.CancelFunc
	metricsDone   chan struct{}
}

// New creates a stopped engine. cfg must have defaults applied.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		panic("engine config cannot be nil")
	}

	e := &Engine{
		config:   cfg,
		files:    afero.NewOsFs(),
		sessions: newSessions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Started reports whether the engine is running.
func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Start opens the database and brings the engine up.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errs.New(errs.KindAlreadyExists, "", "engine already started")
	}
	cfg := e.config

	// Step 1: directories and database
	if err := e.files.MkdirAll(cfg.App.Dir, 0o755); err != nil {
		return errs.Wrap(errs.KindIOError, err, cfg.App.Dir, "failed to create app dir")
	}
	database, err := db.Open(ctx, db.Config{
		Path:             cfg.Database.Path,
		SyncWrites:       !cfg.Database.AsyncWrites,
		BlockCacheSizeMB: cfg.Database.BlockCacheSizeMB,
		IndexCacheSizeMB: cfg.Database.IndexCacheSizeMB,
	})
	if err != nil {
		return errs.Wrap(errs.KindIOError, err, cfg.Database.Path, "failed to open database")
	}

	// Step 2: metrics (nil when disabled)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	connector := factory.New(factory.FromConfig(cfg.Storage, metrics.NewStorageMetrics()))

	e.db = database
	e.settings = settings.New(database)
	e.identities = identity.NewRegistry(database)
	e.env = safe.Env{
		DB:                 database,
		Connector:          connector,
		Metrics:            metrics.NewSafeMetrics(),
		DefaultDescription: cfg.Safe.Description,
		GC: gc.Config{
			Interval:    cfg.Safe.GCInterval,
			GracePeriod: cfg.Safe.GCGracePeriod,
		},
		Files: e.files,
	}

	// Step 3: finish writes interrupted by a previous crash
	if err := safe.RecoverAll(ctx, database, connector); err != nil {
		logger.Warn("Recovery failed: %v", err)
	}

	// Step 4: metrics endpoint
	if cfg.Metrics.Port > 0 {
		e.startMetricsServer()
	}

	e.sessions.reopen()
	e.started = true
	logger.Info("Engine started: db=%s app=%s", cfg.Database.Path, cfg.App.Dir)
	return nil
}

func (e *Engine) startMetricsServer() {
	srv := metrics.NewServer(metrics.ServerConfig{Port: e.config.Metrics.Port})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			logger.Error("Metrics server: %v", err)
		}
	}()

	e.metricsServer, e.metricsCancel, e.metricsDone = srv, cancel, done
}

// Stop closes every open safe and the database. Sessions get at most
// safe.shutdown_timeout to drain.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return errs.New(errs.KindNotStarted, "", "engine is not started")
	}

	err := e.closeSessions(ctx)

	if e.metricsCancel != nil {
		e.metricsCancel()
		<-e.metricsDone
		e.metricsServer, e.metricsCancel, e.metricsDone = nil, nil, nil
	}

	if closeErr := e.db.Close(); closeErr != nil {
		err = errors.Join(err, errs.Wrap(errs.KindIOError, closeErr, "", "failed to close database"))
	}

	e.started = false
	e.db, e.settings, e.identities, e.env = nil, nil, nil, safe.Env{}
	logger.Info("Engine stopped")
	return err
}

// FactoryReset closes every open safe, deletes the database and the app
// cache, and leaves the engine started on an empty database. Container
// objects in storage are not touched.
func (e *Engine) FactoryReset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return errs.New(errs.KindNotStarted, "", "engine is not started")
	}

	if err := e.closeSessions(ctx); err != nil {
		logger.Warn("Factory reset: %v", err)
	}
	e.sessions.reopen()

	if err := e.db.Reset(ctx); err != nil {
		return errs.Wrap(errs.KindIOError, err, e.config.Database.Path, "failed to reset database")
	}
	cache := filepath.Join(e.config.App.Dir, cacheDir)
	if err := e.files.RemoveAll(cache); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIOError, err, cache, "failed to remove app cache")
	}

	logger.Info("Factory reset completed")
	return nil
}

// closeSessions closes the open safes in reverse handle order.
func (e *Engine) closeSessions(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.Safe.ShutdownTimeout)
	defer cancel()

	open := e.sessions.drain()
	var err error
	for i := len(open) - 1; i >= 0; i-- {
		if closeErr := open[i].Close(ctx); closeErr != nil && !errors.Is(closeErr, errs.ErrInvalidHandle) {
			err = errors.Join(err, fmt.Errorf("close %s: %w", open[i].Name(), closeErr))
		}
	}
	return err
}

// enter holds the read lock for the duration of a call. The returned
// function releases it.
func (e *Engine) enter() (func(), error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, errs.New(errs.KindNotStarted, "", "engine is not started")
	}
	return e.mu.RUnlock, nil
}

// Settings returns the config store.
func (e *Engine) Settings() (*settings.Store, error) {
	leave, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return e.settings, nil
}

// Identities returns the identity registry.
func (e *Engine) Identities() (*identity.Registry, error) {
	leave, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return e.identities, nil
}

// CreateSafe creates a safe and returns the handle of its session.
func (e *Engine) CreateSafe(ctx context.Context, creator identity.Identity, token string, users safe.Users, opts safe.CreateOptions) (safe.Handle, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()

	s, err := safe.Create(ctx, e.env, creator, token, users, opts)
	if err != nil {
		return 0, err
	}
	return e.register(ctx, s)
}

// OpenSafe opens an existing safe and returns the handle of its session.
func (e *Engine) OpenSafe(ctx context.Context, id identity.Identity, token string, opts safe.OpenOptions) (safe.Handle, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()

	s, err := safe.Open(ctx, e.env, id, token, opts)
	if err != nil {
		return 0, err
	}
	return e.register(ctx, s)
}

func (e *Engine) register(ctx context.Context, s *safe.Safe) (safe.Handle, error) {
	h, err := e.sessions.add(s)
	if err != nil {
		_ = s.Close(ctx)
		return 0, err
	}
	logger.Debug("Session registered: handle=%d safe=%s", h, s.Name())
	return h, nil
}

// CloseSafe closes the session behind h. A handle can be closed once;
// later calls fail with InvalidHandle.
func (e *Engine) CloseSafe(ctx context.Context, h safe.Handle) error {
	leave, err := e.enter()
	if err != nil {
		return err
	}
	defer leave()

	s, err := e.sessions.remove(h)
	if err != nil {
		return err
	}
	return s.Close(ctx)
}

// Safe returns the session behind h.
func (e *Engine) Safe(h safe.Handle) (*safe.Safe, error) {
	leave, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return e.sessions.get(h)
}

// OpenSessions returns the number of open safes.
func (e *Engine) OpenSessions() int {
	return e.sessions.len()
}
