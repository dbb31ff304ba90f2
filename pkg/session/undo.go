package session

import (
	"fmt"

	"github.com/sagemathinc/patchflow/pkg/patch"
)

// Undo moves the undo pointer one step toward the start of local
// history, if possible, and republishes the displayed document.
func (s *Session) Undo() error {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.undoPtr <= 0 {
		s.mu.Unlock()
		return nil
	}
	s.undoPtr--
	syncErr := s.syncDocLocked()
	ptr := s.undoPtr
	s.mu.Unlock()

	s.publishPresence(map[string]interface{}{"userId": s.userID, "undoPtr": ptr})
	if syncErr != nil {
		return fmt.Errorf("session: undo: %w", syncErr)
	}
	return nil
}

// Redo moves the undo pointer one step toward the end of local
// history, if possible.
func (s *Session) Redo() error {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.undoPtr >= len(s.localTimes) {
		s.mu.Unlock()
		return nil
	}
	s.undoPtr++
	syncErr := s.syncDocLocked()
	ptr := s.undoPtr
	s.mu.Unlock()

	s.publishPresence(map[string]interface{}{"userId": s.userID, "undoPtr": ptr})
	if syncErr != nil {
		return fmt.Errorf("session: redo: %w", syncErr)
	}
	return nil
}

// ResetUndo preserves whatever is currently displayed (which may be
// mid-undo) as a forward edit and clears the redo region: if the
// displayed document differs from the value computed with every local
// patch applied, commit a patch from that full value to the displayed
// one. Otherwise just snap the pointer back to the end.
func (s *Session) ResetUndo() error {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	full, err := s.graph.Value(patch.ValueOptions{})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	displayed := s.doc
	if full.IsEqual(displayed) {
		s.undoPtr = len(s.localTimes)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err = s.commitEnvelope(full, displayed, CommitOptions{})
	return err
}
