package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

func TestAppendAndLoadInitial(t *testing.T) {
	s := New()
	ctx := context.Background()
	id1 := patchid.MustEncode(1, "a")
	id2 := patchid.MustEncode(2, "a")

	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id2, Parents: []patchid.ID{}}))
	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id1, Parents: []patchid.ID{}}))

	result, err := s.LoadInitial(ctx, nil)
	require.NoError(t, err)
	require.Len(t, result.Patches, 2)
	assert.Equal(t, id1, result.Patches[0].ID)
	assert.Equal(t, id2, result.Patches[1].ID)
	assert.False(t, result.HasMore)
}

func TestLoadInitialSince(t *testing.T) {
	s := New()
	ctx := context.Background()
	id1 := patchid.MustEncode(1, "a")
	id2 := patchid.MustEncode(2, "a")
	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id1, Parents: []patchid.ID{}}))
	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id2, Parents: []patchid.ID{}}))

	result, err := s.LoadInitial(ctx, &id1)
	require.NoError(t, err)
	require.Len(t, result.Patches, 1)
	assert.Equal(t, id2, result.Patches[0].ID)
}

func TestAppendIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	id1 := patchid.MustEncode(1, "a")
	env := patch.Envelope{ID: id1, Parents: []patchid.ID{}}

	require.NoError(t, s.Append(ctx, env))
	require.NoError(t, s.Append(ctx, env))
	assert.Equal(t, 1, s.Len())
}

func TestSubscribeReceivesNewAppends(t *testing.T) {
	s := New()
	ctx := context.Background()
	var received []patch.Envelope
	unsub := s.Subscribe(func(env patch.Envelope) { received = append(received, env) })

	id1 := patchid.MustEncode(1, "a")
	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id1, Parents: []patchid.ID{}}))
	require.Len(t, received, 1)

	unsub()
	id2 := patchid.MustEncode(2, "a")
	require.NoError(t, s.Append(ctx, patch.Envelope{ID: id2, Parents: []patchid.ID{}}))
	assert.Len(t, received, 1)
}
