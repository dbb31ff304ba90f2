package patchid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id, err := Encode(1_700_000_000_000, "clientA")
	require.NoError(t, err)
	assert.Equal(t, 11, len(string(id))-len("_clientA"))

	tm, client, err := Decode(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), tm)
	assert.Equal(t, "clientA", client)
}

func TestDecodeClientTokenWithUnderscore(t *testing.T) {
	id, err := Encode(42, "a_b_c")
	require.NoError(t, err)
	_, client, err := Decode(id)
	require.NoError(t, err)
	assert.Equal(t, "a_b_c", client)
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode("short")
	assert.Error(t, err)

	_, _, err = Decode("00000000000Xnoclientseparator")
	assert.Error(t, err)

	_, err2 := Encode(-1, "c")
	assert.Error(t, err2)
}

func TestCompareIsLexicographic(t *testing.T) {
	a := MustEncode(1, "aaa")
	b := MustEncode(1, "aab")
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.Equal(t, 0, Compare(a, a))
}

// Property: for any two PatchIds ordered by string compare, their
// decoded timeMs are non-decreasing (testable property 7).
func TestOrderingPropertyTimeNonDecreasing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		t1 := rapid.Int64Range(0, 1_000_000_000_000).Draw(rt, "t1")
		t2 := rapid.Int64Range(0, 1_000_000_000_000).Draw(rt, "t2")
		c1 := rapid.StringMatching(`[a-zA-Z0-9]{1,8}`).Draw(rt, "c1")
		c2 := rapid.StringMatching(`[a-zA-Z0-9]{1,8}`).Draw(rt, "c2")

		ida := MustEncode(t1, c1)
		idb := MustEncode(t2, c2)

		tma, _, err := Decode(ida)
		require.NoError(rt, err)
		tmb, _, err := Decode(idb)
		require.NoError(rt, err)

		if Less(ida, idb) {
			assert.LessOrEqual(rt, tma, tmb)
		} else if Less(idb, ida) {
			assert.LessOrEqual(rt, tmb, tma)
		}
	})
}

func TestGeneratorMonotone(t *testing.T) {
	clock := int64(100)
	g := NewGenerator("c1", func() int64 { return clock })

	id1, t1 := g.Next()
	id2, t2 := g.Next() // clock unchanged, must still advance
	assert.True(t, Less(id1, id2))
	assert.Greater(t, t2, t1)

	clock = 50 // clock moves backward, generator must not regress
	id3, t3 := g.Next()
	assert.True(t, Less(id2, id3))
	assert.Greater(t, t3, t2)
}

func TestNewClientIDUnique(t *testing.T) {
	a := NewClientID()
	b := NewClientID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
