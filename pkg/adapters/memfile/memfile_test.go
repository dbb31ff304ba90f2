package memfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	f := New("hello")
	ctx := context.Background()

	got, err := f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, f.Write(ctx, "world", nil))
	got, err = f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "world", got)
}

func TestWriteRejectsStaleBase(t *testing.T) {
	f := New("hello")
	ctx := context.Background()
	stale := "not-hello"

	err := f.Write(ctx, "world", &stale)
	assert.Error(t, err)

	got, _ := f.Read(ctx)
	assert.Equal(t, "hello", got)
}

func TestWriteAcceptsMatchingBase(t *testing.T) {
	f := New("hello")
	ctx := context.Background()
	base := "hello"

	require.NoError(t, f.Write(ctx, "world", &base))
	got, _ := f.Read(ctx)
	assert.Equal(t, "world", got)
}

func TestWatchFiresOnSetExternal(t *testing.T) {
	f := New("hello")
	fired := 0
	unsub := f.Watch(func() { fired++ })

	f.SetExternal("changed")
	assert.Equal(t, 1, fired)

	unsub()
	f.SetExternal("changed-again")
	assert.Equal(t, 1, fired)
}
