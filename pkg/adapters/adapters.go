// Package adapters declares the external collaborator interfaces a
// Session depends on (SPEC_FULL.md §A.4.5): a patch store, a file
// mirror, and a presence channel. Reference in-memory implementations
// live in the memstore, memfile, and wsrelay subpackages.
package adapters

import (
	"context"

	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// LoadResult is PatchStore.LoadInitial's return value.
type LoadResult struct {
	Patches []patch.Envelope
	HasMore bool
}

// PatchStore persists and redistributes patch envelopes. Implementations
// may redeliver; the graph dedups by id. Implementations must guarantee
// that a delivered patch's parents have already been delivered, or
// report HasMore so the caller knows the history is incomplete.
type PatchStore interface {
	LoadInitial(ctx context.Context, since *patchid.ID) (LoadResult, error)
	Append(ctx context.Context, env patch.Envelope) error
	Subscribe(onEnvelope func(patch.Envelope)) (unsubscribe func())
}

// FileAdapter mirrors the document to a single external file. Writes
// may assume no concurrent writer from this core (SPEC_FULL.md
// §A.4.4's single-writer discipline).
type FileAdapter interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, content string, base *string) error
	Watch(onChange func()) (unsubscribe func())
}

// PresenceAdapter relays ephemeral cursor/presence state. No ordering
// or delivery guarantees.
type PresenceAdapter interface {
	Publish(ctx context.Context, state interface{}) error
	Subscribe(onState func(interface{})) (unsubscribe func())
}
