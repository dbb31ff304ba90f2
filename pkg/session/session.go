// Package session orchestrates one collaborator's view of a document:
// it owns a PatchGraph, tracks local commit/undo state, rebases a
// working copy against concurrent remote edits, and mirrors the
// document to an external file (SPEC_FULL.md §A.4.4). It plays the
// role the teacher's StateManager (pkg/state/manager.go) plays for a
// single state's lifecycle: construction options, a subscription-based
// init sequence, and Close-time unsubscription, reduced to the single
// PatchGraph this package exclusively owns.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sagemathinc/patchflow/internal/config"
	"github.com/sagemathinc/patchflow/internal/errs"
	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/internal/metrics"
	"github.com/sagemathinc/patchflow/pkg/adapters"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchgraph"
	"github.com/sagemathinc/patchflow/pkg/patchid"

	"golang.org/x/time/rate"
)

// workingCopy stages an uncommitted draft against the document value
// it was forked from, rebased against the graph on every syncDoc.
type workingCopy struct {
	base  doccodec.Document
	draft doccodec.Document
}

// CommitOptions are the optional fields Commit attaches to the
// resulting envelope.
type CommitOptions struct {
	File   bool
	Source string
	Meta   map[string]interface{}
}

// CursorState is one collaborator's last-known cursor/selection,
// returned by Cursors.
type CursorState struct {
	Key      string
	UserID   string
	ClientID string
	TimeMs   int64
	Locs     interface{}
}

// Session owns one PatchGraph and the local editing state layered on
// top of it. The zero value is not usable; construct with New.
type Session struct {
	mu sync.Mutex

	codec           doccodec.Codec
	graph           *patchgraph.Graph
	patchStore      adapters.PatchStore
	fileAdapter     adapters.FileAdapter
	presenceAdapter adapters.PresenceAdapter

	clock    func() int64
	userID   string
	docID    string
	clientID string
	gen      *patchid.Generator

	cfg config.Config
	log logging.Logger
	met *metrics.Collector

	initialized    bool
	closed         bool
	hasMoreHistory bool

	committedDoc doccodec.Document
	doc          doccodec.Document
	workingCopy  *workingCopy
	localTimes   []patchid.ID
	undoPtr      int

	persistedContent    *string
	dirtyContent        *string
	suppressFileChanges int
	writeInFlight       bool

	cursors         map[string]CursorState
	presenceLimiter *rate.Limiter

	unsubPatchStore func()
	unsubPresence   func()
	unsubFileWatch  func()

	patchSubs     map[int]func(patch.Envelope)
	cursorSubs    map[int]func([]CursorState)
	presenceSubs  map[int]func(interface{})
	fileErrorSubs map[int]func(error)
	nextSub       int
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithClock overrides the millisecond wall clock (tests use a fake).
func WithClock(clock func() int64) Option { return func(s *Session) { s.clock = clock } }

// WithUserID sets the authenticated user id attached to local commits.
func WithUserID(userID string) Option { return func(s *Session) { s.userID = userID } }

// WithDocID sets the document id cursor payloads are scoped to.
func WithDocID(docID string) Option { return func(s *Session) { s.docID = docID } }

// WithClientID overrides the generated per-process client token.
func WithClientID(clientID string) Option { return func(s *Session) { s.clientID = clientID } }

// WithFileAdapter attaches a file mirror.
func WithFileAdapter(f adapters.FileAdapter) Option { return func(s *Session) { s.fileAdapter = f } }

// WithPresenceAdapter attaches a cursor/presence relay.
func WithPresenceAdapter(p adapters.PresenceAdapter) Option {
	return func(s *Session) { s.presenceAdapter = p }
}

// WithConfig overrides the default tuning (cache sizes, presence rate
// limit, subscription TTL).
func WithConfig(cfg config.Config) Option { return func(s *Session) { s.cfg = cfg } }

// WithLogger overrides the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches a Prometheus collector (nil is safe and already
// the default).
func WithMetrics(m *metrics.Collector) Option { return func(s *Session) { s.met = m } }

// New constructs a Session. patchStore is required; everything else is
// optional. The PatchGraph is created empty; call Init to populate it.
func New(codec doccodec.Codec, patchStore adapters.PatchStore, opts ...Option) *Session {
	s := &Session{
		codec:      codec,
		patchStore: patchStore,
		clock:      func() int64 { return time.Now().UnixMilli() },
		cfg:        config.Default(),
		log:        logging.Nop(),
		cursors:    make(map[string]CursorState),

		patchSubs:     make(map[int]func(patch.Envelope)),
		cursorSubs:    make(map[int]func([]CursorState)),
		presenceSubs:  make(map[int]func(interface{})),
		fileErrorSubs: make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clientID == "" {
		s.clientID = patchid.NewClientID()
	}
	s.gen = patchid.NewGenerator(s.clientID, s.clock)
	s.presenceLimiter = rate.NewLimiter(rate.Limit(s.cfg.PresenceRatePerSecond), s.cfg.PresenceBurst)
	s.graph = patchgraph.New(codec,
		patchgraph.WithConfig(s.cfg),
		patchgraph.WithLogger(s.log),
		patchgraph.WithMetrics(s.met),
	)
	return s
}

// Init runs the construction-time sequence: loads initial history,
// seeds the generator's clock floor, computes committedDoc/doc, and
// subscribes to every attached adapter (SPEC_FULL.md §A.4.4).
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	result, err := s.patchStore.LoadInitial(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: init: loadInitial: %w", err)
	}
	if err := s.graph.Add(result.Patches); err != nil {
		return fmt.Errorf("session: init: ingesting initial history: %w", err)
	}
	s.hasMoreHistory = result.HasMore
	for _, env := range result.Patches {
		if t, _, err := patchid.Decode(env.ID); err == nil {
			s.gen.Observe(t)
		}
	}

	doc, err := s.graph.Value(patch.ValueOptions{})
	if err != nil {
		return fmt.Errorf("session: init: computing initial value: %w", err)
	}
	s.committedDoc = doc
	s.doc = doc
	if s.fileAdapter != nil {
		text := s.codec.ToString(doc)
		s.persistedContent = &text
	}

	s.unsubPatchStore = s.patchStore.Subscribe(func(env patch.Envelope) {
		if err := s.ApplyRemote(env); err != nil {
			s.log.Warn("session: applying remote envelope", logging.String("id", string(env.ID)), logging.Err(err))
		}
	})

	if s.presenceAdapter != nil {
		s.unsubPresence = s.presenceAdapter.Subscribe(func(state interface{}) {
			s.classifyPresence(state)
		})
	}

	if s.fileAdapter != nil {
		s.unsubFileWatch = s.fileAdapter.Watch(func() {
			s.HandleFileChange(context.Background())
		})
	}

	s.initialized = true
	return nil
}

// HasMoreHistory reports whether LoadInitial signaled a truncated
// history (the store did not guarantee full ancestry completeness).
func (s *Session) HasMoreHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMoreHistory
}

// Doc returns the currently displayed document: the rebased working
// copy if one is set, else the graph's live value.
func (s *Session) Doc() (doccodec.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireInitLocked(); err != nil {
		return nil, err
	}
	return s.doc, nil
}

func (s *Session) requireInitLocked() error {
	if s.closed {
		return errs.ErrSessionClosed
	}
	if !s.initialized {
		return errs.ErrNotInitialized
	}
	return nil
}

func (s *Session) clockNow() int64 { return s.clock() }

// Close unsubscribes every adapter, publishes a nil presence state, and
// clears listeners. Any in-flight file write completes on its own.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := []func(){s.unsubPatchStore, s.unsubPresence, s.unsubFileWatch}
	presenceAdapter := s.presenceAdapter
	s.patchSubs = nil
	s.cursorSubs = nil
	s.presenceSubs = nil
	s.fileErrorSubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}
	if presenceAdapter != nil {
		_ = presenceAdapter.Publish(context.Background(), nil)
	}
	return nil
}

// OnPatch registers fn to fire after every local commit and applied
// remote envelope. The returned func unregisters it.
func (s *Session) OnPatch(fn func(patch.Envelope)) func() {
	return s.registerPatch(fn)
}

// OnCursors registers fn to fire whenever the cursor snapshot changes.
func (s *Session) OnCursors(fn func([]CursorState)) func() {
	return s.registerCursors(fn)
}

// OnPresence registers fn to fire for non-cursor presence payloads.
func (s *Session) OnPresence(fn func(interface{})) func() {
	return s.registerPresence(fn)
}

// OnFileError registers fn to fire when fileAdapter.Write fails.
func (s *Session) OnFileError(fn func(error)) func() {
	return s.registerFileError(fn)
}

func (s *Session) registerPatch(fn func(patch.Envelope)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.patchSubs != nil {
		s.patchSubs[id] = fn
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.patchSubs, id)
		s.mu.Unlock()
	}
}

func (s *Session) registerCursors(fn func([]CursorState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.cursorSubs != nil {
		s.cursorSubs[id] = fn
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.cursorSubs, id)
		s.mu.Unlock()
	}
}

func (s *Session) registerPresence(fn func(interface{})) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.presenceSubs != nil {
		s.presenceSubs[id] = fn
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.presenceSubs, id)
		s.mu.Unlock()
	}
}

func (s *Session) registerFileError(fn func(error)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.fileErrorSubs != nil {
		s.fileErrorSubs[id] = fn
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.fileErrorSubs, id)
		s.mu.Unlock()
	}
}

// emitPatch (and the emit* functions below it) must be called with
// s.mu NOT held: each snapshots its listener set under its own
// critical section, then fires outside the lock, since listeners are
// allowed to call back into the Session (SPEC_FULL.md §A.5
// reentrancy).
func (s *Session) emitPatch(env patch.Envelope) {
	s.mu.Lock()
	subs := make([]func(patch.Envelope), 0, len(s.patchSubs))
	for _, fn := range s.patchSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(env)
	}
}

func (s *Session) emitCursors(snapshot []CursorState) {
	s.mu.Lock()
	subs := make([]func([]CursorState), 0, len(s.cursorSubs))
	for _, fn := range s.cursorSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}

func (s *Session) emitPresence(state interface{}) {
	s.mu.Lock()
	subs := make([]func(interface{}), 0, len(s.presenceSubs))
	for _, fn := range s.presenceSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

func (s *Session) emitFileError(err error) {
	s.mu.Lock()
	subs := make([]func(error), 0, len(s.fileErrorSubs))
	for _, fn := range s.fileErrorSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// publishPresence must be called with s.mu NOT held.
func (s *Session) publishPresence(payload map[string]interface{}) {
	s.mu.Lock()
	adapter := s.presenceAdapter
	allowed := adapter != nil && s.presenceLimiter.Allow()
	s.mu.Unlock()
	if !allowed {
		return
	}
	if err := adapter.Publish(context.Background(), payload); err != nil {
		s.log.Warn("session: presence publish failed", logging.Err(err))
	}
}
