package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagemathinc/patchflow/pkg/adapters"
	"github.com/sagemathinc/patchflow/pkg/adapters/memfile"
	"github.com/sagemathinc/patchflow/pkg/adapters/memstore"
	"github.com/sagemathinc/patchflow/pkg/doccodec/text"
	"github.com/sagemathinc/patchflow/pkg/patch"
)

// fakePresence is a minimal in-process adapters.PresenceAdapter that
// just fans published states out to its subscribers, for tests.
type fakePresence struct {
	mu   sync.Mutex
	subs []func(interface{})
}

func (p *fakePresence) Publish(_ context.Context, state interface{}) error {
	p.mu.Lock()
	subs := append([]func(interface{}){}, p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
	return nil
}

func (p *fakePresence) Subscribe(onState func(interface{})) func() {
	p.mu.Lock()
	p.subs = append(p.subs, onState)
	p.mu.Unlock()
	return func() {}
}

var _ adapters.PresenceAdapter = (*fakePresence)(nil)

func fakeClock(start int64) (func() int64, *int64) {
	v := start
	return func() int64 { return atomic.LoadInt64(&v) }, &v
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	clock, _ := fakeClock(1000)
	store := memstore.New()
	base := append([]Option{WithClientID("c1"), WithUserID("alice"), WithDocID("doc1"), WithClock(clock)}, opts...)
	s := New(text.NewCodec(), store, base...)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestInitEmptyStoreYieldsEmptyDoc(t *testing.T) {
	s := newTestSession(t)
	doc, err := s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "", doc.String())
}

func TestCommitUpdatesDocAndGraph(t *testing.T) {
	s := newTestSession(t)
	env, err := s.Commit(text.New("hello"), CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "alice", env.UserID)
	assert.Equal(t, uint64(1), env.Version)

	doc, err := s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.String())

	versions, err := s.Versions(nil)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestMethodsRequireInit(t *testing.T) {
	store := memstore.New()
	s := New(text.NewCodec(), store)
	_, err := s.Commit(text.New("x"), CommitOptions{})
	assert.Error(t, err)
}

func TestApplyRemoteConverges(t *testing.T) {
	store := memstore.New()
	clockA, _ := fakeClock(1000)
	a := New(text.NewCodec(), store, WithClientID("a"), WithClock(clockA))
	require.NoError(t, a.Init(context.Background()))

	env, err := a.Commit(text.New("from-a"), CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), env))

	clockB, _ := fakeClock(2000)
	b := New(text.NewCodec(), store, WithClientID("b"), WithClock(clockB))
	require.NoError(t, b.Init(context.Background()))

	doc, err := b.Doc()
	require.NoError(t, err)
	assert.Equal(t, "from-a", doc.String())
}

func TestApplyRemoteFromSubscription(t *testing.T) {
	store := memstore.New()
	clockA, _ := fakeClock(1000)
	a := New(text.NewCodec(), store, WithClientID("a"), WithClock(clockA))
	require.NoError(t, a.Init(context.Background()))

	clockB, _ := fakeClock(1001)
	b := New(text.NewCodec(), store, WithClientID("b"), WithClock(clockB))
	require.NoError(t, b.Init(context.Background()))

	_, err := a.Commit(text.New("propagated"), CommitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc, err := b.Doc()
		return err == nil && doc.String() == "propagated"
	}, time.Second, time.Millisecond)
}

func TestUndoRedo(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Commit(text.New("A"), CommitOptions{})
	require.NoError(t, err)
	_, err = s.Commit(text.New("AB"), CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Undo())
	doc, err := s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "A", doc.String())

	require.NoError(t, s.Redo())
	doc, err = s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "AB", doc.String())
}

func TestUndoAtStartIsNoOp(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Undo())
	doc, err := s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "", doc.String())
}

func TestResetUndoCommitsForwardPatch(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Commit(text.New("A"), CommitOptions{})
	require.NoError(t, err)
	_, err = s.Commit(text.New("AB"), CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Undo())
	doc, err := s.Doc()
	require.NoError(t, err)
	require.Equal(t, "A", doc.String())

	require.NoError(t, s.ResetUndo())
	doc, err = s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "A", doc.String())

	versions, err := s.Versions(nil)
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	// Redo region was cleared: nothing to redo past the reset point.
	require.NoError(t, s.Redo())
	doc, err = s.Doc()
	require.NoError(t, err)
	assert.Equal(t, "A", doc.String())
}

func TestResetUndoNoOpWhenUnchanged(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Commit(text.New("A"), CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, s.ResetUndo())
	versions, err := s.Versions(nil)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestWorkingCopyRebaseAgainstRemote(t *testing.T) {
	store := memstore.New()
	clockA, _ := fakeClock(1000)
	a := New(text.NewCodec(), store, WithClientID("a"), WithClock(clockA))
	require.NoError(t, a.Init(context.Background()))
	_, err := a.Commit(text.New("base"), CommitOptions{})
	require.NoError(t, err)

	clockB, _ := fakeClock(2000)
	b := New(text.NewCodec(), store, WithClientID("b"), WithClock(clockB))
	require.NoError(t, b.Init(context.Background()))

	require.NoError(t, b.SetWorkingCopy(text.New("base-edited")))

	clockA2, _ := fakeClock(3000)
	_ = clockA2
	_, err = a.Commit(text.New("base-remote"), CommitOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		require.NoError(t, b.ApplyRemote(mustLatest(t, store)))
		doc, err := b.Doc()
		return err == nil && doc.String() != "base-edited"
	}, time.Second, time.Millisecond)
}

func mustLatest(t *testing.T, store *memstore.Store) patch.Envelope {
	t.Helper()
	result, err := store.LoadInitial(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Patches)
	return result.Patches[len(result.Patches)-1]
}

func TestFileMirrorPersistsOnCommit(t *testing.T) {
	f := memfile.New("")
	s := newTestSession(t, WithFileAdapter(f))
	_, err := s.Commit(text.New("hello"), CommitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		content, err := f.Read(context.Background())
		return err == nil && content == "hello"
	}, time.Second, time.Millisecond)
}

func TestHandleFileChangeIngestsExternalEdit(t *testing.T) {
	f := memfile.New("")
	s := newTestSession(t, WithFileAdapter(f))
	_, err := s.Commit(text.New("hello"), CommitOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		content, _ := f.Read(context.Background())
		return content == "hello"
	}, time.Second, time.Millisecond)

	f.SetExternal("hello world")

	require.Eventually(t, func() bool {
		doc, err := s.Doc()
		return err == nil && doc.String() == "hello world"
	}, time.Second, time.Millisecond)
}

func TestCursorsRoundTrip(t *testing.T) {
	pres := &fakePresence{}
	s := newTestSession(t, WithPresenceAdapter(pres))
	require.NoError(t, s.UpdateCursors(map[string]interface{}{"line": 3.0}))

	cursors := s.Cursors(0)
	require.Len(t, cursors, 1)
	assert.Equal(t, "user-alice", cursors[0].Key)
}

func TestCursorsExpireByTTL(t *testing.T) {
	pres := &fakePresence{}
	clock, clockVar := fakeClock(1000)
	store := memstore.New()
	s := New(text.NewCodec(), store, WithClientID("c1"), WithUserID("alice"), WithDocID("doc1"),
		WithClock(clock), WithPresenceAdapter(pres))
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.UpdateCursors(map[string]interface{}{"line": 1.0}))

	*clockVar += 120_000
	assert.Empty(t, s.Cursors(60_000))
}

func TestSummarizeHistory(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Commit(text.New("A"), CommitOptions{})
	require.NoError(t, err)
	lines, err := s.SummarizeHistory()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "alice")
}

func TestCloseUnsubscribesAndIsIdempotent(t *testing.T) {
	pres := &fakePresence{}
	s := newTestSession(t, WithPresenceAdapter(pres))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Commit(text.New("x"), CommitOptions{})
	assert.Error(t, err)
}

func TestOnPatchFiresOnCommit(t *testing.T) {
	s := newTestSession(t)
	var received patch.Envelope
	var got bool
	unsub := s.OnPatch(func(env patch.Envelope) { received = env; got = true })
	defer unsub()

	env, err := s.Commit(text.New("x"), CommitOptions{})
	require.NoError(t, err)
	require.True(t, got)
	assert.Equal(t, env.ID, received.ID)
}
