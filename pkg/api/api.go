// Package api is the string-in, JSON-out call boundary over the engine.
//
// Every method takes plain strings (JSON documents for structured input)
// and returns a Result. Exactly one of Result.Result and Result.Error is
// meaningful: on failure Error carries the formatted engine error, whose
// prefix names its kind ("not found: ...", "access denied: ...").
//
// Option arguments accept "" or "{}" for the defaults. Unknown fields are
// rejected and values are validated before the engine is called.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/marmos91/dittosafe/internal/logger"
	"github.com/marmos91/dittosafe/pkg/access"
	"github.com/marmos91/dittosafe/pkg/config"
	"github.com/marmos91/dittosafe/pkg/engine"
	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/safe"
	"github.com/marmos91/dittosafe/pkg/settings"
)

// Result is the outcome of a call.
type Result struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Error == ""
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Result, v)
}

// API holds one engine. The zero value is not usable; use New.
type API struct {
	base *config.Config
	opts []engine.Option

	mu  sync.Mutex
	eng *engine.Engine
}

// New creates an API whose engines start from cfg (defaults applied).
func New(cfg *config.Config, opts ...engine.Option) *API {
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	return &API{base: cfg, opts: opts}
}

func ok(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return fail(errs.Wrap(errs.KindInvalidArgument, err, "", "failed to encode result"))
	}
	return Result{Result: data}
}

func done() Result {
	return Result{Result: json.RawMessage("null")}
}

func fail(err error) Result {
	logger.Debug("Call failed: %v", err)
	return Result{Error: err.Error()}
}

func (a *API) engine() (*engine.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.eng == nil {
		return nil, errs.New(errs.KindNotStarted, "", "engine is not started")
	}
	return a.eng, nil
}

func (a *API) session(handle int64) (*safe.Safe, error) {
	e, err := a.engine()
	if err != nil {
		return nil, err
	}
	return e.Safe(safe.Handle(handle))
}

// Start opens the engine on dbPath and appDir. Empty strings keep the
// configured locations.
func (a *API) Start(dbPath, appDir string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := *a.base
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if appDir != "" {
		cfg.App.Dir = appDir
		cfg.Storage.Filesystem = map[string]any{"root": a.filesystemRoot(appDir)}
	}
	if err := config.Validate(&cfg); err != nil {
		return fail(errs.Wrap(errs.KindInvalidArgument, err, "", "invalid configuration"))
	}

	if a.eng != nil && a.eng.Started() {
		return fail(errs.New(errs.KindAlreadyExists, "", "engine already started"))
	}

	logger.SetLevel(cfg.Logging.Level)
	e := engine.New(&cfg, a.opts...)
	if err := e.Start(context.Background()); err != nil {
		return fail(err)
	}
	a.eng = e
	return done()
}

// filesystemRoot keeps an explicitly configured root and otherwise moves
// the default one under appDir.
func (a *API) filesystemRoot(appDir string) string {
	root, _ := a.base.Storage.Filesystem["root"].(string)
	if root != "" && root != filepath.Join(a.base.App.Dir, "stores") {
		return root
	}
	return filepath.Join(appDir, "stores")
}

// Stop closes every open safe and the database.
func (a *API) Stop() Result {
	e, err := a.engine()
	if err != nil {
		return fail(err)
	}
	if err := e.Stop(context.Background()); err != nil {
		return fail(err)
	}
	return done()
}

// FactoryReset wipes the database and the app cache.
func (a *API) FactoryReset() Result {
	e, err := a.engine()
	if err != nil {
		return fail(err)
	}
	if err := e.FactoryReset(context.Background()); err != nil {
		return fail(err)
	}
	return done()
}

// GetConfig returns the value stored under (node, key) as {s, i, b}.
func (a *API) GetConfig(node, key string) Result {
	store, err := a.settings()
	if err != nil {
		return fail(err)
	}
	v, err := store.Get(context.Background(), node, key)
	if err != nil {
		return fail(err)
	}
	return ok(v)
}

// SetConfig stores valueJSON under (node, key). valueJSON is an object
// {s, i, b} or a bare string.
func (a *API) SetConfig(node, key, valueJSON string) Result {
	store, err := a.settings()
	if err != nil {
		return fail(err)
	}
	v, err := settings.ParseValue(valueJSON)
	if err != nil {
		return fail(err)
	}
	if err := store.Set(context.Background(), node, key, v); err != nil {
		return fail(err)
	}
	return done()
}

func (a *API) settings() (*settings.Store, error) {
	e, err := a.engine()
	if err != nil {
		return nil, err
	}
	return e.Settings()
}

// GetLogs returns the most recent log entries, oldest first.
func (a *API) GetLogs() Result {
	return ok(logger.Recent())
}

// SetLogLevel changes the minimum log level (DEBUG, INFO, WARN, ERROR).
func (a *API) SetLogLevel(level string) Result {
	if _, valid := logger.ParseLevel(level); !valid {
		return fail(errs.New(errs.KindInvalidArgument, level, "unknown log level"))
	}
	logger.SetLevel(level)
	return done()
}

// EncodeAccess builds an access token. urlsJSON is a JSON array of storage
// URLs; aesKey is empty or standard base64.
func (a *API) EncodeAccess(userID, safeName, creatorID, urlsJSON, aesKey string) Result {
	urls, err := decode[[]string](urlsJSON, "urls")
	if err != nil {
		return fail(err)
	}
	var key []byte
	if aesKey != "" {
		if key, err = base64.StdEncoding.DecodeString(aesKey); err != nil {
			return fail(errs.Wrap(errs.KindInvalidArgument, err, "", "aes key is not base64"))
		}
	}

	token, err := access.Encode(userID, safeName, creatorID, urls, key)
	if err != nil {
		return fail(err)
	}
	return ok(token)
}

// DecodeAccess decodes token for the identity in identityJSON.
func (a *API) DecodeAccess(identityJSON, token string) Result {
	id, err := parseIdentity(identityJSON)
	if err != nil {
		return fail(err)
	}
	tok, err := access.Decode(id, token)
	if err != nil {
		return fail(err)
	}
	return ok(tok)
}
