package wsrelay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/adapters/memstore"
	"github.com/sagemathinc/patchflow/pkg/doccodec/table"
	"github.com/sagemathinc/patchflow/pkg/doccodec/text"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

type memPresence struct {
	subs []func(interface{})
}

func (p *memPresence) Publish(_ context.Context, state interface{}) error {
	for _, fn := range p.subs {
		fn(state)
	}
	return nil
}

func (p *memPresence) Subscribe(onState func(interface{})) func() {
	p.subs = append(p.subs, onState)
	return func() {}
}

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	pres := &memPresence{}
	srv := httptest.NewServer(Handler(store, pres, logging.Nop()))
	t.Cleanup(srv.Close)
	return srv, store
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestLoadInitialRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	id1 := patchid.MustEncode(1, "a")
	require.NoError(t, store.Append(ctx, patch.Envelope{ID: id1, Parents: []patchid.ID{}}))

	client, err := Dial(wsURL(srv.URL), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	result, err := client.PatchStore().LoadInitial(ctx, nil)
	require.NoError(t, err)
	require.Len(t, result.Patches, 1)
	assert.Equal(t, id1, result.Patches[0].ID)
}

func TestAppendPropagatesToServerAndOtherClients(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	client, err := Dial(wsURL(srv.URL), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	received := make(chan patch.Envelope, 1)
	store.Subscribe(func(env patch.Envelope) { received <- env })

	id1 := patchid.MustEncode(1, "a")
	require.NoError(t, client.PatchStore().Append(ctx, patch.Envelope{ID: id1, Parents: []patchid.ID{}}))

	select {
	case env := <-received:
		assert.Equal(t, id1, env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to observe appended patch")
	}
}

// TestLoadInitialRoundTripsTextPatchBody proves that a non-trivial patch
// body survives the real wsrelay wire path: the store holds it, the
// server sends it in a loadInitial reply frame over the websocket, the
// client decodes that frame (exercising Envelope.UnmarshalJSON's
// json.RawMessage deferral), and the text codec must still apply it.
func TestLoadInitialRoundTripsTextPatchBody(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	base := text.New("hello world")
	next := text.New("hello there, world")
	body, err := base.MakePatch(next)
	require.NoError(t, err)

	id1 := patchid.MustEncode(1, "a")
	require.NoError(t, store.Append(ctx, patch.Envelope{ID: id1, Body: body, Parents: []patchid.ID{}}))

	client, err := Dial(wsURL(srv.URL), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	result, err := client.PatchStore().LoadInitial(ctx, nil)
	require.NoError(t, err)
	require.Len(t, result.Patches, 1)

	got := result.Patches[0]
	assert.Equal(t, id1, got.ID)

	applied, err := base.ApplyPatch(got.Body)
	require.NoError(t, err)
	assert.Equal(t, next.Text(), applied.(*text.Document).Text())
}

// TestAppendPropagatesTablePatchBody proves the same for a table patch
// body delivered over the live websocket append/subscription path
// (rather than a loadInitial reply), including a stringCols diff value nested
// inside a Record, which only survives JSON as map[string]interface{}.
func TestAppendPropagatesTablePatchBody(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	cfg, err := table.NewConfig([]string{"id"}, []string{"notes"})
	require.NoError(t, err)

	base := table.Empty(cfg)
	baseWithRow, err := base.ApplyPatch(table.Body{
		{Op: table.OpUpsert, Payload: []table.Record{{"id": "r1", "notes": "hello"}}},
	})
	require.NoError(t, err)

	textBase := text.New("hello")
	textNext := text.New("hello world")
	diff, err := textBase.MakePatch(textNext)
	require.NoError(t, err)

	tableBody := table.Body{
		{Op: table.OpUpsert, Payload: []table.Record{{"id": "r1", "notes": diff}}},
	}

	client, err := Dial(wsURL(srv.URL), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	received := make(chan patch.Envelope, 1)
	store.Subscribe(func(env patch.Envelope) { received <- env })

	id1 := patchid.MustEncode(1, "a")
	require.NoError(t, client.PatchStore().Append(ctx, patch.Envelope{ID: id1, Body: tableBody, Parents: []patchid.ID{}}))

	var env patch.Envelope
	select {
	case env = <-received:
		assert.Equal(t, id1, env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to observe appended patch")
	}

	applied, err := baseWithRow.ApplyPatch(env.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1","notes":"hello world"}`, table.ToString(applied))
}

func TestPresencePublishSubscribe(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	client, err := Dial(wsURL(srv.URL), logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	received := make(chan interface{}, 1)
	client.Presence().Subscribe(func(state interface{}) { received <- state })

	require.NoError(t, client.Presence().Publish(ctx, map[string]interface{}{"cursor": 7.0}))

	select {
	case state := <-received:
		m, ok := state.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 7.0, m["cursor"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence echo")
	}
}
