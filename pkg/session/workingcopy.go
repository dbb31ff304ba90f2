package session

import (
	"fmt"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/doccodec/text"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// SetWorkingCopy stages draft as an uncommitted document forked from
// the last committed document. No graph mutation, no persistence.
func (s *Session) SetWorkingCopy(draft doccodec.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInitLocked(); err != nil {
		return err
	}
	s.workingCopy = &workingCopy{base: s.committedDoc, draft: draft}
	s.doc = draft
	return nil
}

// ClearWorkingCopy drops the staged draft and reverts the displayed
// document to the last committed one.
func (s *Session) ClearWorkingCopy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInitLocked(); err != nil {
		return err
	}
	s.workingCopy = nil
	s.doc = s.committedDoc
	return nil
}

// syncDocLocked recomputes the displayed document from the graph
// (honoring the undo tail) and, if a working copy is staged, rebases it
// against the freshly recomputed base. Must be called with s.mu held.
// Queues a file write when a file adapter is attached.
//
// A graph.Value failure (e.g. a patch body that failed to decode into
// its codec's concrete type) leaves s.doc untouched — still reflecting
// the last value that replayed cleanly — and is returned so the caller
// (Commit/ApplyRemote/Undo/Redo) surfaces it to whoever invoked them,
// rather than letting the displayed document silently go stale while
// the call itself reports success.
func (s *Session) syncDocLocked() error {
	withoutTimes := append([]patchid.ID(nil), s.localTimes[s.undoPtr:]...)

	graphDoc, err := s.graph.Value(patch.ValueOptions{WithoutTimes: withoutTimes})
	if err != nil {
		s.log.Warn("session: syncDoc: computing graph value", logging.Err(err))
		return fmt.Errorf("session: recomputing document value: %w", err)
	}

	if s.workingCopy != nil {
		rebased, err := RebaseDraft(s.codec, s.workingCopy.base, s.workingCopy.draft, graphDoc)
		if err != nil {
			s.log.Warn("session: syncDoc: rebasing working copy", logging.Err(err))
			rebased = graphDoc
		}
		s.workingCopy.draft = rebased
		s.workingCopy.base = graphDoc
		s.doc = rebased
	} else {
		s.doc = graphDoc
	}

	if s.fileAdapter != nil {
		s.queueFileWriteLocked(s.codec.ToString(s.doc))
	}
	return nil
}

// stringDocument is implemented by codecs (text) whose Document can
// expose a raw string form, letting RebaseDraft pick the three-way
// text merge instead of the generic delta-replay fallback.
type stringDocument interface {
	Text() string
}

// RebaseDraft reconciles a locally-staged draft against an advanced
// base, per SPEC_FULL.md §A.4.4: identity shortcuts, three-way text
// merge when both endpoints expose a string form, else replay the
// draft's delta from base onto updatedBase.
func RebaseDraft(codec doccodec.Codec, base, draft, updatedBase doccodec.Document) (doccodec.Document, error) {
	if draft.IsEqual(base) {
		return updatedBase, nil
	}
	if draft.IsEqual(updatedBase) {
		return updatedBase, nil
	}
	if bs, ok := base.(stringDocument); ok {
		if ds, ok2 := draft.(stringDocument); ok2 {
			if us, ok3 := updatedBase.(stringDocument); ok3 {
				merged := text.ThreeWayMerge(bs.Text(), ds.Text(), us.Text())
				return codec.FromString(merged)
			}
		}
	}
	delta, err := base.MakePatch(draft)
	if err != nil {
		return nil, err
	}
	return updatedBase.ApplyPatch(delta)
}
