package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sagemathinc/patchflow/pkg/doccodec"
)

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec()
	doc, err := c.FromString("hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", c.ToString(doc))
}

func TestApplyPatchAndMakePatch(t *testing.T) {
	c := NewCodec()
	a, _ := c.FromString("hello")
	b, _ := c.FromString("hello world")

	body, err := a.MakePatch(b)
	require.NoError(t, err)

	out, err := a.ApplyPatch(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.String())
}

func TestApplyPatchBatch(t *testing.T) {
	c := NewCodec()
	a, _ := c.FromString("")
	b, _ := c.FromString("one\n")
	cDoc, _ := c.FromString("one\ntwo\n")

	p1, _ := a.MakePatch(b)
	p2, _ := b.MakePatch(cDoc)

	out, err := a.ApplyPatchBatch([]interface{}{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out.String())
}

func TestApplyPatchUncleanIsNoOp(t *testing.T) {
	a := New("one\ntwo\n")
	b := New("one\nTWO\n")
	body, _ := a.MakePatch(b)

	corrupted := New("one\nthree\n")
	out, err := corrupted.ApplyPatch(body)
	require.NoError(t, err)
	assert.Equal(t, "one\nthree\n", out.String())
}

func TestIsEqual(t *testing.T) {
	a := New("x")
	b := New("x")
	cDoc := New("y")
	assert.True(t, a.IsEqual(b))
	assert.False(t, a.IsEqual(cDoc))
	var other doccodec.Document = a
	assert.True(t, a.IsEqual(other))
}

func TestThreeWayMergeIdentityShortcuts(t *testing.T) {
	assert.Equal(t, "local", ThreeWayMerge("base", "local", "local"))
	assert.Equal(t, "local", ThreeWayMerge("base", "local", "base"))
	assert.Equal(t, "remote", ThreeWayMerge("base", "base", "remote"))
}

func TestThreeWayMergeWeave(t *testing.T) {
	base := "a\nb\nc\n"
	local := "a\nLOCAL\nb\nc\n"  // insert after a
	remote := "a\nb\nc\nREMOTE\n" // insert after c

	merged := ThreeWayMerge(base, local, remote)
	assert.Equal(t, "a\nLOCAL\nb\nc\nREMOTE\n", merged)
}

func TestThreeWayMergePreferLocalOnConflictingDelete(t *testing.T) {
	base := "a\nb\nc\n"
	local := "a\nc\n"    // deletes b
	remote := "a\nb\nc\nd\n" // keeps b, appends d

	merged := ThreeWayMerge(base, local, remote)
	// local's delete of "b" wins; remote's trailing insert still applies.
	assert.Equal(t, "a\nc\nd\n", merged)
}

// Property S7-flavored: rebase-via-three-way never duplicates an
// insertion both sides made identically.
func TestThreeWayMergeDedupesIdenticalInserts(t *testing.T) {
	base := "x\n"
	local := "shared\nx\n"
	remote := "shared\nx\n"
	assert.Equal(t, "shared\nx\n", ThreeWayMerge(base, local, remote))
}

func TestThreeWayMergeDeterministicProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.StringOfN(rapid.RuneFrom([]rune("ab\n")), 0, 20, -1).Draw(rt, "base")
		local := rapid.StringOfN(rapid.RuneFrom([]rune("ab\n")), 0, 20, -1).Draw(rt, "local")
		remote := rapid.StringOfN(rapid.RuneFrom([]rune("ab\n")), 0, 20, -1).Draw(rt, "remote")

		m1 := ThreeWayMerge(base, local, remote)
		m2 := ThreeWayMerge(base, local, remote)
		assert.Equal(rt, m1, m2, "three-way merge must be deterministic")
	})
}
