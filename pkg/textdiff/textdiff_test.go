package textdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	svc := New()
	a := "hello\nworld\n"
	b := "hello\nthere\nworld\nagain\n"

	p := svc.Diff(a, b)
	out, clean := svc.Apply(a, p)
	require.True(t, clean)
	assert.Equal(t, b, out)
}

func TestApplyUncleanReturnsOriginal(t *testing.T) {
	svc := New()
	p := svc.Diff("one\ntwo\n", "one\nTWO\n")

	out, clean := svc.Apply("one\nthree\n", p)
	assert.False(t, clean)
	assert.Equal(t, "one\nthree\n", out)
}

func TestDiffEmptyStrings(t *testing.T) {
	svc := New()
	p := svc.Diff("", "hello")
	out, clean := svc.Apply("", p)
	require.True(t, clean)
	assert.Equal(t, "hello", out)

	p2 := svc.Diff("hello", "")
	out2, clean2 := svc.Apply("hello", p2)
	require.True(t, clean2)
	assert.Equal(t, "", out2)
}

func TestDiffIdentical(t *testing.T) {
	svc := New()
	p := svc.Diff("same", "same")
	out, clean := svc.Apply("same", p)
	require.True(t, clean)
	assert.Equal(t, "same", out)
}

// Property (invariant 6, patch round-trip): applyPatch(a, makePatch(a,
// b)) == b whenever the diff is clean (true against the exact same
// base it was computed from).
func TestPatchRoundTripProperty(t *testing.T) {
	svc := New()
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.StringOfN(rapid.RuneFrom([]rune("abc\n")), 0, 40, -1).Draw(rt, "a")
		b := rapid.StringOfN(rapid.RuneFrom([]rune("abc\n")), 0, 40, -1).Draw(rt, "b")

		p := svc.Diff(a, b)
		out, clean := svc.Apply(a, p)
		require.True(rt, clean)
		assert.Equal(rt, b, out)
	})
}
