package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/textdiff"
)

func mustConfig(t *testing.T, pk, cols []string) Config {
	t.Helper()
	cfg, err := NewConfig(pk, cols)
	require.NoError(t, err)
	return cfg
}

func TestCodecRoundTrip(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	c := NewCodec(cfg, nil)

	s := `{"id":2,"name":"b"}
{"id":1,"name":"a"}`
	doc, err := c.FromString(s)
	require.NoError(t, err)

	out := c.ToString(doc)
	// Sorted lexicographically by stable JSON of the whole record.
	assert.Equal(t, `{"id":1,"name":"a"}
{"id":2,"name":"b"}`, out)
}

func TestFromStringSkipsCorruptLines(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	c := NewCodec(cfg, nil)

	doc, err := c.FromString("{\"id\":1}\nnot json\n\n[1,2,3]\n")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Count())
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	out, err := doc.ApplyPatch(Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "name": "alice"}}}})
	require.NoError(t, err)
	td := out.(*Document)
	assert.Equal(t, 1, td.Count())
}

func TestUpsertUpdatesExistingRecord(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	out, err := doc.ApplyPatchBatch([]interface{}{
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "name": "alice", "age": float64(30)}}}},
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "age": float64(31)}}}},
	})
	require.NoError(t, err)
	td := out.(*Document)
	require.Equal(t, 1, td.Count())

	recs := recordsByPKKey(td)
	require.Len(t, recs, 1)
	for _, r := range recs {
		assert.Equal(t, "alice", r["name"])
		assert.Equal(t, float64(31), r["age"])
	}
}

func TestUpsertNullDeletesField(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	out, _ := doc.ApplyPatchBatch([]interface{}{
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "name": "alice"}}}},
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "name": nil}}}},
	})
	td := out.(*Document)
	for _, r := range recordsByPKKey(td) {
		_, ok := r["name"]
		assert.False(t, ok)
	}
}

func TestUpsertStringColTextPatch(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, []string{"body"})
	doc := Empty(cfg)

	out, err := doc.ApplyPatchBatch([]interface{}{
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "body": "hello\n"}}}},
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "body": textdiff.New().Diff("hello\n", "hello world\n")}}}},
	})
	require.NoError(t, err)
	td := out.(*Document)
	for _, r := range recordsByPKKey(td) {
		assert.Equal(t, "hello world\n", r["body"])
	}
}

func TestUpsertStringColRejectsNonStringNonPatch(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, []string{"body"})
	doc := Empty(cfg)
	out, _ := doc.ApplyPatch(Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "body": "x"}}}})
	td := out.(*Document)

	_, err := td.ApplyPatch(Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "body": float64(5)}}}})
	assert.Error(t, err)
}

func TestUpsertMapMergePatch(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	out, err := doc.ApplyPatchBatch([]interface{}{
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "meta": map[string]interface{}{"a": "1", "b": "2"}}}}},
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "meta": map[string]interface{}{"b": nil, "c": "3"}}}}},
	})
	require.NoError(t, err)
	td := out.(*Document)
	for _, r := range recordsByPKKey(td) {
		meta := r["meta"].(map[string]interface{})
		assert.Equal(t, "1", meta["a"])
		assert.Equal(t, "3", meta["c"])
		_, hasB := meta["b"]
		assert.False(t, hasB)
	}
}

func TestInsertStripsNullsAndArrayStringCols(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, []string{"body"})
	doc := Empty(cfg)

	patch := textdiff.New().Diff("", "new text")
	out, err := doc.ApplyPatch(Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1), "name": nil, "body": patch}}}})
	require.NoError(t, err)
	td := out.(*Document)
	for _, r := range recordsByPKKey(td) {
		_, hasName := r["name"]
		assert.False(t, hasName)
		_, hasBody := r["body"]
		assert.False(t, hasBody)
	}
}

func TestDeleteTombstones(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	out, err := doc.ApplyPatchBatch([]interface{}{
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(1)}}}},
		Body{{Op: OpUpsert, Payload: []Record{{"id": float64(2)}}}},
		Body{{Op: OpDelete, Payload: []Record{{"id": float64(1)}}}},
	})
	require.NoError(t, err)
	td := out.(*Document)
	assert.Equal(t, 1, td.Count())
}

func TestSelectUnknownKeyErrors(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)
	ws := doc.mutableCopy()
	_, err := ws.selectSlots(Record{"notpk": "x"})
	assert.Error(t, err)
}

func TestMakePatchRoundTrip(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, []string{"body"})
	c := NewCodec(cfg, nil)

	from, _ := c.FromString(`{"id":1,"body":"hello"}
{"id":2,"body":"keep"}`)
	to, _ := c.FromString(`{"id":2,"body":"keep"}
{"id":3,"body":"new"}`)

	body, err := from.MakePatch(to)
	require.NoError(t, err)

	applied, err := from.ApplyPatch(body)
	require.NoError(t, err)
	assert.True(t, applied.IsEqual(to))
}

func TestIsEqualOrderInsensitive(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	c := NewCodec(cfg, nil)

	a, _ := c.FromString(`{"id":1}
{"id":2}`)
	b, _ := c.FromString(`{"id":2}
{"id":1}`)
	assert.True(t, a.IsEqual(b))
}

func TestApplyPatchBatchSingleTransaction(t *testing.T) {
	cfg := mustConfig(t, []string{"id"}, nil)
	doc := Empty(cfg)

	var bodies []interface{}
	for i := 0; i < 50; i++ {
		bodies = append(bodies, Body{{Op: OpUpsert, Payload: []Record{{"id": float64(i), "n": float64(i)}}}})
	}
	out, err := doc.ApplyPatchBatch(bodies)
	require.NoError(t, err)
	td := out.(*Document)
	assert.Equal(t, 50, td.Count())
}

var _ doccodec.Codec = (*Codec)(nil)
