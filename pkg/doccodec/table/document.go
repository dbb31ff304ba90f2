// Package table implements doccodec.Codec for indexed JSONL table
// documents (SPEC_FULL.md §A.4.2.3): an ordered sequence of records
// (insertion slots may be tombstoned) plus per-primary-key-column
// secondary indexes mapping a stable JSON-encoded key to the set of
// slots holding that value.
//
// Patch bodies are native Go values (Body/Entry, a stringCols field's
// diff-eligible value is a textdiff.Patch) when they never leave this
// process, and json.RawMessage/map[string]interface{} when they arrive
// decoded off the wire (an envelope's Body field, or a Record's nested
// value — see asBody, isTextPatch/asTextPatch); both forms are accepted
// everywhere a patch body is consumed.
package table

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sagemathinc/patchflow/internal/errs"
	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/textdiff"
)

type indexSet = map[int]struct{}
type indexBucket = map[string]indexSet // stableJSON(value) -> slot set
type pkIndexes = map[string]indexBucket

// Document is an immutable indexed table document.
type Document struct {
	cfg     Config
	records []Record // nil slot = tombstone
	idx     pkIndexes
	count   int
}

// Empty returns a table document with no records.
func Empty(cfg Config) *Document {
	return &Document{cfg: cfg, idx: pkIndexes{}}
}

func (d *Document) String() string {
	return ToString(d)
}
func (d *Document) Count() int  { return d.count }
func (d *Document) Size() int64 { return int64(len(d.String())) }

func (d *Document) IsEqual(other doccodec.Document) bool {
	o, ok := other.(*Document)
	if !ok {
		return false
	}
	if d.count != o.count {
		return false
	}
	a := recordsByPKKey(d)
	b := recordsByPKKey(o)
	if len(a) != len(b) {
		return false
	}
	for k, ra := range a {
		rb, ok := b[k]
		if !ok || !recordEqual(ra, rb) {
			return false
		}
	}
	return true
}

func recordEqual(a, b Record) bool {
	return stableJSON(a) == stableJSON(b)
}

// pkKey joins a record's configured primary key values into one
// composite identity string, used to group records across two
// documents for MakePatch (distinct from the per-column indexes used by
// select, which intersect single-column buckets).
func pkKey(cfg Config, r Record) (string, bool) {
	var b strings.Builder
	for i, k := range cfg.PrimaryKeys {
		v, ok := r[k]
		if !ok || v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(stableJSON(v))
	}
	return b.String(), true
}

func recordsByPKKey(d *Document) map[string]Record {
	out := make(map[string]Record, d.count)
	for _, r := range d.records {
		if r == nil {
			continue
		}
		if k, ok := pkKey(d.cfg, r); ok {
			out[k] = r
		}
	}
	return out
}

// ApplyPatch applies a single opaque patch body.
func (d *Document) ApplyPatch(body interface{}) (doccodec.Document, error) {
	return d.ApplyPatchBatch([]interface{}{body})
}

// ApplyPatchBatch applies a sequence of patch bodies as one logical
// transaction over a mutable working copy of the slot vector and
// indexes, maintaining indexes incrementally rather than rebuilding
// them — the O(Σ affected records) + O(patches) performance contract of
// SPEC_FULL.md §A.4.2.3, as opposed to O(patches × records).
func (d *Document) ApplyPatchBatch(bodies []interface{}) (doccodec.Document, error) {
	ws := d.mutableCopy()
	for _, raw := range bodies {
		if raw == nil {
			continue
		}
		entries, err := asBody(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch e.Op {
			case OpUpsert:
				for _, r := range e.Payload {
					if err := ws.upsert(r); err != nil {
						return nil, err
					}
				}
			case OpDelete:
				for _, r := range e.Payload {
					if err := ws.delete(r); err != nil {
						return nil, err
					}
				}
			default:
				return nil, fmt.Errorf("table: %w: unknown patch op %d", errs.ErrCorruptPatchBody, e.Op)
			}
		}
	}
	return ws.toDocument(), nil
}

func (d *Document) MakePatch(other doccodec.Document) (interface{}, error) {
	o, ok := other.(*Document)
	if !ok {
		return nil, fmt.Errorf("table: MakePatch: other document is not a table document (%T)", other)
	}
	return MakePatch(d, o)
}

// mutableCopy builds a workingState that shares Record maps with d
// until they're individually replaced, but owns its own slot slice and
// index maps so mutation never corrupts d (Documents are immutable).
func (d *Document) mutableCopy() *workingState {
	records := make([]Record, len(d.records))
	copy(records, d.records)

	idx := make(pkIndexes, len(d.idx))
	for field, bucket := range d.idx {
		nb := make(indexBucket, len(bucket))
		for key, set := range bucket {
			ns := make(indexSet, len(set))
			for slot := range set {
				ns[slot] = struct{}{}
			}
			nb[key] = ns
		}
		idx[field] = nb
	}

	return &workingState{cfg: d.cfg, records: records, idx: idx, count: d.count}
}

// workingState is the mutable staging area ApplyPatchBatch operates
// over before producing a fresh immutable Document.
type workingState struct {
	cfg     Config
	records []Record
	idx     pkIndexes
	count   int
}

func (ws *workingState) indexAdd(field, value string, slot int) {
	bucket := ws.idx[field]
	if bucket == nil {
		bucket = indexBucket{}
		ws.idx[field] = bucket
	}
	set := bucket[value]
	if set == nil {
		set = indexSet{}
		bucket[value] = set
	}
	set[slot] = struct{}{}
}

func (ws *workingState) indexRemove(field, value string, slot int) {
	bucket := ws.idx[field]
	if bucket == nil {
		return
	}
	set := bucket[value]
	if set == nil {
		return
	}
	delete(set, slot)
	if len(set) == 0 {
		delete(bucket, value)
	}
}

// indexRecord adds slot's primary-key field values into the per-column
// indexes.
func (ws *workingState) indexRecord(slot int, r Record) {
	for _, field := range ws.cfg.PrimaryKeys {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		ws.indexAdd(field, stableJSON(v), slot)
	}
}

func (ws *workingState) unindexRecord(slot int, r Record) {
	for _, field := range ws.cfg.PrimaryKeys {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		ws.indexRemove(field, stableJSON(v), slot)
	}
}

// selectSlots resolves a where-pattern to the set of matching,
// currently-defined slots via per-column index intersection
// (SPEC_FULL.md §A.4.2.3's "select via indexes").
func (ws *workingState) selectSlots(where Record) (indexSet, error) {
	for k := range where {
		if !ws.cfg.isPK(k) {
			return nil, fmt.Errorf("table: %w: %q is not a primary key column", errs.ErrInvalidWhere, k)
		}
	}
	if len(where) == 0 {
		all := indexSet{}
		for slot, r := range ws.records {
			if r != nil {
				all[slot] = struct{}{}
			}
		}
		return all, nil
	}

	var result indexSet
	for k, v := range where {
		bucket := ws.idx[k]
		set := bucket[stableJSON(v)]
		if result == nil {
			result = indexSet{}
			for slot := range set {
				result[slot] = struct{}{}
			}
			continue
		}
		for slot := range result {
			if _, ok := set[slot]; !ok {
				delete(result, slot)
			}
		}
	}
	if result == nil {
		result = indexSet{}
	}
	return result, nil
}

func (ws *workingState) upsert(r Record) error {
	where, setFields := splitRecord(r, ws.cfg)
	slots, err := ws.selectSlots(where)
	if err != nil {
		return err
	}
	if len(slots) > 0 {
		for slot := range slots {
			if err := ws.updateSlot(slot, setFields); err != nil {
				return err
			}
		}
		return nil
	}
	return ws.insert(where, setFields)
}

func (ws *workingState) insert(where, setFields Record) error {
	rec := Record{}
	for k, v := range where {
		rec[k] = v
	}
	for k, v := range setFields {
		if v == nil {
			continue // strip null fields on insert
		}
		if ws.cfg.isStringCol(k) {
			if isTextPatch(v) {
				continue // no base string to patch against; drop
			}
		}
		rec[k] = v
	}

	slot := len(ws.records)
	ws.records = append(ws.records, rec)
	ws.indexRecord(slot, rec)
	ws.count++
	return nil
}

func (ws *workingState) updateSlot(slot int, setFields Record) error {
	old := ws.records[slot]
	if old == nil {
		return nil // tombstoned; nothing to update
	}
	rec := copyRecord(old)

	for k, v := range setFields {
		if v == nil {
			delete(rec, k)
			continue
		}
		if ws.cfg.isStringCol(k) {
			if isTextPatch(v) {
				patch, err := asTextPatch(v)
				if err != nil {
					return err
				}
				cur, _ := rec[k].(string)
				out, _ := tableTextDiff.Apply(cur, patch)
				rec[k] = out
				continue
			}
			if s, ok := v.(string); ok {
				rec[k] = s
				continue
			}
			return fmt.Errorf("table: %w: field %q is a string column but value has type %T", errs.ErrInvalidFieldType, k, v)
		}
		if curMap, ok := rec[k].(map[string]interface{}); ok {
			if newMap, ok2 := v.(map[string]interface{}); ok2 {
				rec[k] = shallowMergeMap(curMap, newMap)
				continue
			}
		}
		rec[k] = v
	}

	// Primary key fields can only reach setFields with a null value
	// (non-null PK values always route to whereKeys in splitRecord), so
	// the only index maintenance needed here is removing a slot from a
	// column's bucket when that column is deleted via setFields.
	for _, field := range ws.cfg.PrimaryKeys {
		if v, hadNull := setFields[field]; hadNull && v == nil {
			if oldV, ok := old[field]; ok && oldV != nil {
				ws.indexRemove(field, stableJSON(oldV), slot)
			}
		}
	}

	ws.records[slot] = rec
	return nil
}

func (ws *workingState) delete(where Record) error {
	slots, err := ws.selectSlots(where)
	if err != nil {
		return err
	}
	for slot := range slots {
		r := ws.records[slot]
		if r == nil {
			continue
		}
		ws.unindexRecord(slot, r)
		ws.records[slot] = nil
		ws.count--
	}
	return nil
}

func (ws *workingState) toDocument() *Document {
	return &Document{cfg: ws.cfg, records: ws.records, idx: ws.idx, count: ws.count}
}

// tableTextDiff is the TextDiff service stringCols fields delegate to,
// the same reference implementation the text codec uses.
var tableTextDiff textdiff.Service = textdiff.New()

// isTextPatch/asTextPatch recognize a stringCols field's diff-encoded
// value. Besides the native textdiff.Patch (the in-process path, body
// never leaving Go memory), a value decoded off the wire inside a
// table Record arrives as plain map[string]interface{} (Record's
// values have no static type for encoding/json to target) — callers
// only reach here once ws.cfg.isStringCol(k) already holds, so any map
// seen is unambiguously a JSON-decoded patch object, not some other
// nested map value.
func isTextPatch(v interface{}) bool {
	switch v.(type) {
	case textdiff.Patch, *textdiff.Patch, map[string]interface{}:
		return true
	default:
		return false
	}
}

func asTextPatch(v interface{}) (textdiff.Patch, error) {
	switch p := v.(type) {
	case textdiff.Patch:
		return p, nil
	case *textdiff.Patch:
		return *p, nil
	case map[string]interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return textdiff.Patch{}, fmt.Errorf("table: %w: re-encoding text patch: %v", errs.ErrInvalidFieldType, err)
		}
		var out textdiff.Patch
		if err := json.Unmarshal(raw, &out); err != nil {
			return textdiff.Patch{}, fmt.Errorf("table: %w: decoding text patch: %v", errs.ErrInvalidFieldType, err)
		}
		return out, nil
	default:
		return textdiff.Patch{}, fmt.Errorf("table: %w: value is not a text patch (%T)", errs.ErrInvalidFieldType, v)
	}
}

// ApplyWithLog is like ApplyPatch but also logs a failure at Warn before
// returning it; the error still propagates to the caller (table errors
// are data-shape errors per SPEC_FULL.md §A.7 and are fatal to the
// caller).
func ApplyWithLog(d *Document, body interface{}, log logging.Logger) (*Document, error) {
	out, err := d.ApplyPatch(body)
	if err != nil {
		if log != nil {
			log.Warn("table patch application failed", logging.Err(err))
		}
		return nil, err
	}
	return out.(*Document), nil
}
