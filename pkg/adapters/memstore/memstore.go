// Package memstore is an in-memory adapters.PatchStore, the reference
// backend for tests and single-process use. It mirrors the sharded
// append-only log shape of the teacher's StorageBackend file backend
// (pkg/state/storage.go) reduced to one mutex-guarded slice, since a
// patch log has no competing-writer shards to isolate.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/sagemathinc/patchflow/pkg/adapters"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// Store is a process-local adapters.PatchStore. Zero value is not
// usable; construct with New.
type Store struct {
	mu    sync.Mutex
	byID  map[patchid.ID]patch.Envelope
	order []patchid.ID
	subs  map[int]func(patch.Envelope)
	nextSub int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID: make(map[patchid.ID]patch.Envelope),
		subs: make(map[int]func(patch.Envelope)),
	}
}

var _ adapters.PatchStore = (*Store)(nil)

// LoadInitial returns every envelope with id > since (or all, if since
// is nil), ascending. HasMore is always false: this backend never
// paginates.
func (s *Store) LoadInitial(_ context.Context, since *patchid.ID) (adapters.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]patch.Envelope, 0, len(s.order))
	for _, id := range s.order {
		if since != nil && !patchid.Less(*since, id) {
			continue
		}
		out = append(out, s.byID[id])
	}
	return adapters.LoadResult{Patches: out, HasMore: false}, nil
}

// Append inserts env (idempotent by id) and fans it out to subscribers.
func (s *Store) Append(_ context.Context, env patch.Envelope) error {
	s.mu.Lock()
	var fanout []func(patch.Envelope)
	if _, exists := s.byID[env.ID]; !exists {
		s.byID[env.ID] = env
		i := sort.Search(len(s.order), func(i int) bool { return patchid.Less(env.ID, s.order[i]) || s.order[i] == env.ID })
		s.order = append(s.order, "")
		copy(s.order[i+1:], s.order[i:])
		s.order[i] = env.ID
		for _, fn := range s.subs {
			fanout = append(fanout, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fanout {
		fn(env)
	}
	return nil
}

// Subscribe registers onEnvelope for every future Append. The returned
// func removes it; safe to call more than once.
func (s *Store) Subscribe(onEnvelope func(patch.Envelope)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = onEnvelope
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Len reports the number of stored envelopes, for tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
