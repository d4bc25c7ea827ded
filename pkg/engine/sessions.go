package engine

import (
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/safe"
)

// sessions maps handles to open safes.
//
// The lock only guards the map: each session has its own locks, so a slow
// operation on one safe never blocks lookups of another.
//
// Thread safety:
// All methods are safe for concurrent use.
type sessions struct {
	mu     sync.RWMutex
	next   safe.Handle
	byID   map[safe.Handle]*safe.Safe
	closed bool
}

func newSessions() *sessions {
	return &sessions{byID: make(map[safe.Handle]*safe.Safe)}
}

// add registers s and returns its handle. Handles are positive and never
// reused within the lifetime of the engine.
func (r *sessions) add(s *safe.Safe) (safe.Handle, error) {
	if s == nil {
		return 0, errs.New(errs.KindInvalidArgument, "", "cannot register nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errs.New(errs.KindNotStarted, "", "engine is stopping")
	}
	r.next++
	r.byID[r.next] = s
	return r.next, nil
}

// get returns the session behind h.
func (r *sessions) get(h safe.Handle) (*safe.Safe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[h]
	if !ok {
		return nil, errs.New(errs.KindInvalidHandle, handleUnit(h), "unknown handle")
	}
	return s, nil
}

// remove unregisters h and returns its session.
func (r *sessions) remove(h safe.Handle) (*safe.Safe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[h]
	if !ok {
		return nil, errs.New(errs.KindInvalidHandle, handleUnit(h), "unknown handle")
	}
	delete(r.byID, h)
	return s, nil
}

// drain unregisters every session, in handle order, and refuses new ones
// until reopen.
func (r *sessions) drain() []*safe.Safe {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	handles := slices.Sorted(maps.Keys(r.byID))
	out := make([]*safe.Safe, 0, len(handles))
	for _, h := range handles {
		out = append(out, r.byID[h])
	}
	clear(r.byID)
	return out
}

func (r *sessions) reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}

func (r *sessions) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func handleUnit(h safe.Handle) string {
	return "handle " + strconv.FormatInt(int64(h), 10)
}
