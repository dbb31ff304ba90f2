package session

import (
	"context"
	"fmt"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// Commit records nextDoc as a new local patch. The base diffed against
// is the working copy's base if one is staged, else the last committed
// document (SPEC_FULL.md §A.4.4).
func (s *Session) Commit(nextDoc doccodec.Document, opts CommitOptions) (patch.Envelope, error) {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return patch.Envelope{}, err
	}
	base := s.committedDoc
	if s.workingCopy != nil {
		base = s.workingCopy.base
	}
	s.mu.Unlock()
	return s.commitEnvelope(base, nextDoc, opts)
}

// commitEnvelope is the shared core of Commit, ResetUndo's forward
// patch, and the file mirror's HandleFileChange: diff base -> next,
// assign the next PatchId, ingest locally, and fire the asynchronous
// side effects (store append, presence publish, patch event).
func (s *Session) commitEnvelope(base, next doccodec.Document, opts CommitOptions) (patch.Envelope, error) {
	body, err := s.codec.MakePatch(base, next)
	if err != nil {
		return patch.Envelope{}, err
	}

	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return patch.Envelope{}, err
	}
	id, t := s.gen.Next()
	versionCount := len(s.graph.Versions(nil))
	env := patch.Envelope{
		ID:      id,
		Wall:    s.clockNow(),
		Body:    body,
		Parents: s.graph.GetHeads(),
		UserID:  s.userID,
		Version: uint64(versionCount) + 1,
		File:    opts.File,
		Source:  opts.Source,
		Meta:    opts.Meta,
	}
	if err := s.graph.Add([]patch.Envelope{env}); err != nil {
		s.mu.Unlock()
		return patch.Envelope{}, err
	}
	s.committedDoc = next
	s.workingCopy = nil
	s.localTimes = append(append([]patchid.ID{}, s.localTimes[:s.undoPtr]...), id)
	s.undoPtr = len(s.localTimes)
	syncErr := s.syncDocLocked()
	s.mu.Unlock()

	s.asyncAppend(env)
	s.publishPresence(map[string]interface{}{"userId": s.userID, "time": t})
	s.met.Commit()
	s.emitPatch(env)
	if syncErr != nil {
		return env, fmt.Errorf("session: commit: %w", syncErr)
	}
	return env, nil
}

// asyncAppend fire-and-forgets the envelope to the patch store: the
// local graph already reflects it, so a failed append only means a
// slower peer, not a correctness problem (SPEC_FULL.md §A.4.4).
func (s *Session) asyncAppend(env patch.Envelope) {
	go func() {
		if err := s.patchStore.Append(context.Background(), env); err != nil {
			s.log.Warn("session: patch store append failed", logging.String("id", string(env.ID)), logging.Err(err))
		}
	}()
}

// ApplyRemote ingests an envelope observed from the patch store: graph
// insert, generator clock bump, doc resync, patch event.
func (s *Session) ApplyRemote(env patch.Envelope) error {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.graph.Add([]patch.Envelope{env}); err != nil {
		s.mu.Unlock()
		return err
	}
	if t, _, err := patchid.Decode(env.ID); err == nil {
		s.gen.Observe(t)
	}
	syncErr := s.syncDocLocked()
	s.mu.Unlock()

	s.met.RemoteApply()
	s.emitPatch(env)
	if syncErr != nil {
		return fmt.Errorf("session: applyRemote: %w", syncErr)
	}
	return nil
}
