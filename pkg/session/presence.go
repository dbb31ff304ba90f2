package session

import (
	"fmt"
	"sort"
)

const defaultCursorTTLMs = 60_000

// UpdateCursors publishes the caller's cursor/selection state and
// ingests it locally so it appears in the very next Cursors snapshot
// without waiting for the presence round trip.
func (s *Session) UpdateCursors(locs interface{}) error {
	s.mu.Lock()
	if err := s.requireInitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	payload := map[string]interface{}{
		"type":     "cursor",
		"time":     s.clockNow(),
		"locs":     locs,
		"docId":    s.docID,
		"clientId": s.clientID,
	}
	if s.userID != "" {
		payload["userId"] = s.userID
	}
	s.ingestCursorLocked(payload)
	snapshot := s.cursorSnapshotLocked(0)
	s.mu.Unlock()

	s.emitCursors(snapshot)
	s.publishPresence(payload)
	return nil
}

// Cursors returns a snapshot of known cursor states, pruning entries
// older than ttlMs (0 uses the configured SubscriptionTTL, 60s by
// default).
func (s *Session) Cursors(ttlMs int64) []CursorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorSnapshotLocked(ttlMs)
}

func (s *Session) cursorSnapshotLocked(ttlMs int64) []CursorState {
	if ttlMs <= 0 {
		ttlMs = s.cfg.SubscriptionTTL.Milliseconds()
	}
	if ttlMs <= 0 {
		ttlMs = defaultCursorTTLMs
	}
	now := s.clockNow()
	out := make([]CursorState, 0, len(s.cursors))
	for _, c := range s.cursors {
		if now-c.TimeMs > ttlMs {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// classifyPresence is the presenceAdapter subscription callback: cursor
// payloads scoped to this docId are merged into the cursor map and
// re-emitted as a cursors snapshot; everything else is forwarded
// as-is as a presence event.
func (s *Session) classifyPresence(state interface{}) {
	if m, ok := state.(map[string]interface{}); ok {
		if kind, _ := m["type"].(string); kind == "cursor" {
			if docID, ok := m["docId"].(string); !ok || docID == "" || docID == s.docIDSnapshot() {
				s.mu.Lock()
				s.ingestCursorLocked(m)
				snapshot := s.cursorSnapshotLocked(0)
				s.mu.Unlock()
				s.emitCursors(snapshot)
				return
			}
		}
	}
	s.emitPresence(state)
}

func (s *Session) docIDSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docID
}

// ingestCursorLocked stores m in the cursor map, keyed by
// "user-<userId>" when userId is present, else the publisher's
// clientId. Must be called with s.mu held.
func (s *Session) ingestCursorLocked(m map[string]interface{}) {
	userID, _ := m["userId"].(string)
	clientID, _ := m["clientId"].(string)
	key := clientID
	if userID != "" {
		key = fmt.Sprintf("user-%s", userID)
	}
	if key == "" {
		return
	}
	timeMs, _ := m["time"].(int64)
	if timeMs == 0 {
		if f, ok := m["time"].(float64); ok {
			timeMs = int64(f)
		}
	}
	s.cursors[key] = CursorState{
		Key:      key,
		UserID:   userID,
		ClientID: clientID,
		TimeMs:   timeMs,
		Locs:     m["locs"],
	}
}
