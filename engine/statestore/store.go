// Package statestore implements the engine's ephemeral, fast
// key->value coordination layer (C3): one entry per execution carrying
// a status flag and completed/failed node-key sets, used for
// cancellation signalling and post-mortem reporting. It is modeled on
// the two-phase RLock-then-Lock-upgrade locking strategy of the
// donor's ai/cache.LRUCache, but deliberately drops the LRU/capacity
// eviction half of that cache: this store is TTL-only, since its
// durable source of truth is always the repository (C2) and capacity
// pressure is not a concern the spec assigns to it.
package statestore

import (
	"context"
	"sync"
	"time"

	engine "github.com/tanjeetsarkar/workflowengine/engine/core"
)

type record struct {
	expiresAt     time.Time
	statusFlag    engine.Status
	completedKeys map[string]struct{}
	failedKeys    map[string]struct{}
}

// Store is an in-process TTL map keyed by ExecutionID. It satisfies
// engine.StateStore.
type Store struct {
	mu      sync.RWMutex
	entries map[engine.ExecutionID]*record
}

// New constructs an empty Store. Call Sweep periodically (or run it in
// a background goroutine via RunSweeper) to evict expired entries;
// lazily-expired reads also self-heal on access, mirroring the donor
// cache's double-checked-locking expiry path.
func New() *Store {
	return &Store{entries: make(map[engine.ExecutionID]*record)}
}

// Init (re)creates the entry for an execution with status flag RUNNING
// and empty key sets. A live entry already flagged CANCELLED keeps that
// flag, so a cancel recorded before the scheduler initialises is not lost.
func (s *Store) Init(ctx context.Context, executionID engine.ExecutionID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag := engine.StatusRunning
	if old, ok := s.entries[executionID]; ok && old.statusFlag == engine.StatusCancelled && time.Now().Before(old.expiresAt) {
		flag = engine.StatusCancelled
	}
	s.entries[executionID] = &record{
		expiresAt:     time.Now().Add(ttl),
		statusFlag:    flag,
		completedKeys: make(map[string]struct{}),
		failedKeys:    make(map[string]struct{}),
	}
	return nil
}

// get returns the live (non-expired) record for an execution, lazily
// evicting it if its TTL has elapsed. Mirrors LRUCache.Get's two-phase
// locking: a read-lock fast path, and a write-lock path only when
// eviction is needed.
func (s *Store) get(executionID engine.ExecutionID) *record {
	s.mu.RLock()
	r, ok := s.entries[executionID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	expired := time.Now().After(r.expiresAt)
	s.mu.RUnlock()

	if expired {
		s.mu.Lock()
		if r, ok := s.entries[executionID]; ok && time.Now().After(r.expiresAt) {
			delete(s.entries, executionID)
		}
		s.mu.Unlock()
		return nil
	}
	return r
}

func (s *Store) SetStatusFlag(ctx context.Context, executionID engine.ExecutionID, status engine.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[executionID]
	if !ok {
		return engine.ErrNotFound
	}
	r.statusFlag = status
	return nil
}

func (s *Store) GetStatusFlag(ctx context.Context, executionID engine.ExecutionID) (engine.Status, error) {
	r := s.get(executionID)
	if r == nil {
		return "", engine.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return r.statusFlag, nil
}

func (s *Store) AddCompleted(ctx context.Context, executionID engine.ExecutionID, nodeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[executionID]
	if !ok {
		return engine.ErrNotFound
	}
	r.completedKeys[nodeKey] = struct{}{}
	return nil
}

func (s *Store) AddFailed(ctx context.Context, executionID engine.ExecutionID, nodeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[executionID]
	if !ok {
		return engine.ErrNotFound
	}
	r.failedKeys[nodeKey] = struct{}{}
	return nil
}

func (s *Store) Delete(ctx context.Context, executionID engine.ExecutionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, executionID)
	return nil
}

// CompletedKeys and FailedKeys are read only for post-mortem reporting,
// never for gate evaluation (see DESIGN.md Open Question #2).
func (s *Store) CompletedKeys(executionID engine.ExecutionID) []string {
	return keySlice(s.get(executionID), true)
}

func (s *Store) FailedKeys(executionID engine.ExecutionID) []string {
	return keySlice(s.get(executionID), false)
}

func keySlice(r *record, completed bool) []string {
	if r == nil {
		return nil
	}
	src := r.failedKeys
	if completed {
		src = r.completedKeys
	}
	out := make([]string, 0, len(src))
	for k := range src {
		out = append(out, k)
	}
	return out
}

// Sweep removes every entry whose TTL has elapsed. Intended to be
// called periodically by a background goroutine owned by the engine
// front-door.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, r := range s.entries {
		if now.After(r.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// RunSweeper runs Sweep on interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
