package table

import (
	"encoding/json"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Record is a table row: a generic JSON object. Go's encoding/json
// always decodes JSON objects into map[string]interface{} with float64
// numbers, so upsert/diff logic works against those dynamic types
// directly rather than round-tripping through a schema.
type Record = map[string]interface{}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// stableJSON renders v as canonical JSON: object keys sorted
// recursively, so two maps with the same content always encode to the
// same string regardless of insertion order (SPEC_FULL.md §A.4.2.3 —
// "stable JSON-encoded key", used both for index buckets and for
// sorting the serialized document's lines).
func stableJSON(v interface{}) string {
	var b strings.Builder
	writeStable(&b, v)
	return b.String()
}

func writeStable(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeStable(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeStable(b, e)
		}
		b.WriteByte(']')
	default:
		// Scalars (string, float64, bool, nil) have a unique
		// encoding regardless of key order; reuse encoding/json.
		raw, err := json.Marshal(val)
		if err != nil {
			raw = []byte("null")
		}
		b.Write(raw)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	raw, err := json.Marshal(s)
	if err != nil {
		raw = []byte(`""`)
	}
	b.Write(raw)
}

// stableEncodeRecord marshals a record to JSON with sorted keys, for
// serialized document lines (distinct from stableJSON's use as an index
// key, though it uses the same canonicalization).
func stableEncodeRecord(r Record) string {
	return stableJSON(r)
}

// shallowMergeMap applies an RFC 7396 JSON Merge Patch (evanphx/json-patch)
// to cur: keys whose patch value is null are deleted, every other key
// is overwritten wholesale (SPEC_FULL.md §A.4.2.3's "shallow merge:
// null in the change deletes a key, other values overwrite"). Table
// records are flat JSONL rows, so the patches this codec ever generates
// (see makeMapDiff) never carry nested map-of-map changes, keeping the
// merge effectively one level deep in practice.
func shallowMergeMap(cur, patch map[string]interface{}) map[string]interface{} {
	curJSON, err := json.Marshal(cur)
	if err != nil {
		curJSON = []byte("{}")
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return copyRecord(cur)
	}
	merged, err := jsonpatch.MergePatch(curJSON, patchJSON)
	if err != nil {
		return copyRecord(cur)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(merged, &out); err != nil {
		return copyRecord(cur)
	}
	return out
}

// makeMapDiff computes the RFC 7396 merge patch taking from to to —
// only the keys whose value changed, with null marking deletion — used
// by MakePatch's map-to-map field diff rule.
func makeMapDiff(from, to map[string]interface{}) (map[string]interface{}, error) {
	fromJSON, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	toJSON, err := json.Marshal(to)
	if err != nil {
		return nil, err
	}
	patchJSON, err := jsonpatch.CreateMergePatch(fromJSON, toJSON)
	if err != nil {
		return nil, err
	}
	var diff map[string]interface{}
	if err := json.Unmarshal(patchJSON, &diff); err != nil {
		return nil, err
	}
	return diff, nil
}
