// Package memfile is an in-memory adapters.FileAdapter, the reference
// mirror target for tests and single-process use. It plays the role
// the teacher's file-backed StorageBackend (pkg/state/storage.go)
// plays for state snapshots, here holding one document's content
// instead of a keyed store.
package memfile

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagemathinc/patchflow/pkg/adapters"
)

// File is a process-local adapters.FileAdapter backed by a string held
// in memory. Zero value is not usable; construct with New.
type File struct {
	mu      sync.Mutex
	content string
	subs    map[int]func()
	nextSub int
}

// New returns a File seeded with content.
func New(content string) *File {
	return &File{content: content, subs: make(map[int]func())}
}

var _ adapters.FileAdapter = (*File)(nil)

// Read returns the current content.
func (f *File) Read(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, nil
}

// Write stores content. If base is non-nil and does not match the
// current content, the write is rejected: the caller observed a stale
// base and must re-read, reconcile, and retry (SPEC_FULL.md §A.4.4's
// single-writer discipline).
func (f *File) Write(_ context.Context, content string, base *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if base != nil && *base != f.content {
		return fmt.Errorf("memfile: write conflict: base no longer matches stored content")
	}
	f.content = content
	return nil
}

// SetExternal overwrites the content as if an outside process wrote
// it, and notifies watchers. For tests simulating external edits.
func (f *File) SetExternal(content string) {
	f.mu.Lock()
	f.content = content
	var fanout []func()
	for _, fn := range f.subs {
		fanout = append(fanout, fn)
	}
	f.mu.Unlock()

	for _, fn := range fanout {
		fn()
	}
}

// Watch registers onChange to fire on every SetExternal call. The
// returned func removes it.
func (f *File) Watch(onChange func()) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = onChange
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
