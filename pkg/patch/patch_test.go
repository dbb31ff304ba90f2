package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagemathinc/patchflow/pkg/patchid"
)

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	id := patchid.MustEncode(123, "c1")
	env := Envelope{
		ID:      id,
		Wall:    123,
		Body:    map[string]interface{}{"x": "y"},
		Parents: []patchid.ID{},
		UserID:  "u1",
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, env.ID, out.ID)
	assert.Equal(t, env.UserID, out.UserID)
}

func TestRangeInRange(t *testing.T) {
	start := patchid.MustEncode(10, "a")
	end := patchid.MustEncode(20, "a")
	r := Range{Start: &start, End: &end}

	assert.True(t, r.InRange(patchid.MustEncode(15, "a")))
	assert.False(t, r.InRange(patchid.MustEncode(5, "a")))
	assert.False(t, r.InRange(patchid.MustEncode(25, "a")))
}

func TestCloneIndependentParents(t *testing.T) {
	env := Envelope{ID: patchid.MustEncode(1, "a"), Parents: []patchid.ID{patchid.MustEncode(0, "a")}}
	cl := env.Clone()
	cl.Parents[0] = patchid.MustEncode(2, "a")
	assert.NotEqual(t, env.Parents[0], cl.Parents[0])
}
