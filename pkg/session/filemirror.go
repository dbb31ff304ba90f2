package session

import (
	"context"

	"github.com/sagemathinc/patchflow/internal/logging"
)

// queueFileWriteLocked sets dirtyContent if text differs from what is
// already persisted, and kicks off flushFileQueue if no write is
// already in flight. Must be called with s.mu held.
func (s *Session) queueFileWriteLocked(text string) {
	if s.persistedContent != nil && *s.persistedContent == text && s.dirtyContent == nil {
		return
	}
	s.dirtyContent = &text
	if s.writeInFlight {
		return
	}
	s.writeInFlight = true
	go s.flushFileQueue()
}

// flushFileQueue loops while dirtyContent is set: snapshot and clear
// it, increment suppressFileChanges, write, and update
// persistedContent on success or emit file-error on failure. Exits
// (clearing writeInFlight) once dirtyContent is empty, giving the file
// adapter a single in-flight write as its concurrency token
// (SPEC_FULL.md §A.5).
func (s *Session) flushFileQueue() {
	for {
		s.mu.Lock()
		if s.dirtyContent == nil {
			s.writeInFlight = false
			s.mu.Unlock()
			return
		}
		content := *s.dirtyContent
		s.dirtyContent = nil
		var base *string
		if s.persistedContent != nil {
			b := *s.persistedContent
			base = &b
		}
		s.suppressFileChanges++
		fileAdapter := s.fileAdapter
		s.mu.Unlock()

		err := fileAdapter.Write(context.Background(), content, base)

		s.mu.Lock()
		s.suppressFileChanges--
		if err != nil {
			s.mu.Unlock()
			s.met.FileWrite(false)
			s.log.Warn("session: file write failed", logging.Err(err))
			s.emitFileError(err)
			continue
		}
		s.persistedContent = &content
		s.mu.Unlock()
		s.met.FileWrite(true)
	}
}

// HandleFileChange reacts to an external file-watch notification. A
// self-induced write is swallowed via the suppression counter; belt
// and suspenders, the freshly read content is also compared against
// persistedContent before reacting at all (SPEC_FULL.md §A.9), so a
// spurious extra decrement never drops a genuine external edit.
func (s *Session) HandleFileChange(ctx context.Context) {
	s.mu.Lock()
	if s.suppressFileChanges > 0 {
		s.suppressFileChanges--
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	content, err := s.fileAdapter.Read(ctx)
	if err != nil {
		s.log.Warn("session: reading changed file", logging.Err(err))
		return
	}

	s.mu.Lock()
	if s.persistedContent != nil && *s.persistedContent == content {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	externalDoc, err := s.codec.FromString(content)
	if err != nil {
		s.log.Warn("session: parsing changed file", logging.Err(err))
		return
	}

	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return
	}
	if s.doc != nil && externalDoc.IsEqual(s.doc) {
		s.mu.Unlock()
		return
	}
	current := s.doc
	s.persistedContent = &content
	s.mu.Unlock()

	if _, err := s.commitEnvelope(current, externalDoc, CommitOptions{File: true}); err != nil {
		s.log.Warn("session: applying external file edit", logging.Err(err))
	}
}
