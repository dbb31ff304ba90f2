package session

import (
	"fmt"
	"strings"

	"github.com/sagemathinc/patchflow/internal/textutil"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

const summaryTruncateRunes = 80

// Versions delegates to the graph, guarded by initialization.
func (s *Session) Versions(r *patch.Range) ([]patchid.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInitLocked(); err != nil {
		return nil, err
	}
	return s.graph.Versions(r), nil
}

// Value delegates to the graph, guarded by initialization.
func (s *Session) Value(opts patch.ValueOptions) (doccodec.Document, error) {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.graph.Value(opts)
}

// History delegates to the graph, guarded by initialization.
func (s *Session) History(opts patch.HistoryOptions) ([]patch.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInitLocked(); err != nil {
		return nil, err
	}
	return s.graph.History(opts), nil
}

// GetPatch delegates to the graph, guarded by initialization.
func (s *Session) GetPatch(id patchid.ID) (patch.Envelope, error) {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return patch.Envelope{}, err
	}
	s.mu.Unlock()
	return s.graph.GetPatch(id)
}

// SummarizeHistory formats every known patch (ascending, snapshots
// included) as one line: id, version, user, wall clock, parents, a
// patch/snapshot marker, and the document at that patch id,
// middle-truncated for readability.
func (s *Session) SummarizeHistory() ([]string, error) {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	envs := s.graph.History(patch.HistoryOptions{IncludeSnapshots: true})
	lines := make([]string, 0, len(envs))
	for _, env := range envs {
		doc, err := s.graph.Version(env.ID)
		if err != nil {
			return nil, fmt.Errorf("session: summarizing history at %q: %w", env.ID, err)
		}
		marker := "patch"
		if env.IsSnapshot {
			marker = "snapshot"
		}
		parents := make([]string, len(env.Parents))
		for i, p := range env.Parents {
			parents[i] = string(p)
		}
		rendered := textutil.MiddleTruncate(s.codec.ToString(doc), summaryTruncateRunes)
		lines = append(lines, fmt.Sprintf("%s v%d user=%s wall=%d parents=[%s] %s %q",
			env.ID, env.Version, env.UserID, env.Wall, strings.Join(parents, ","), marker, rendered))
	}
	return lines, nil
}
