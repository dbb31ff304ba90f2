package table

import (
	"encoding/json"
	"fmt"

	"github.com/sagemathinc/patchflow/internal/errs"
)

// Op is a table patch entry's operation.
type Op int8

const (
	OpDelete Op = -1
	OpUpsert Op = 1
)

// Entry is one (op, payload) pair from SPEC_FULL.md §A.4.2.3/§6.3's
// patch body format, batched: for OpDelete, Payload holds one
// where-pattern (primary key fields only) per record to delete; for
// OpUpsert, Payload holds one record per upsert. A single Entry covers
// every record changed the same way in one makePatch call.
type Entry struct {
	Op      Op
	Payload []Record
}

// Body is a table patch body: any number of (op, payload) entries
// applied in order as one logical transaction.
type Body []Entry

// MarshalJSON encodes Body as the wire format's flat array alternating
// op and payload — `[op, [payload, ...], op, [payload, ...], ...]`
// (SPEC_FULL.md §6.3) — rather than as an array of {Op,Payload}
// objects, so it matches what a non-Go reader of the wire format
// expects.
func (b Body) MarshalJSON() ([]byte, error) {
	flat := make([]interface{}, 0, len(b)*2)
	for _, e := range b {
		flat = append(flat, int(e.Op), e.Payload)
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes Body back from the flat alternating array.
func (b *Body) UnmarshalJSON(data []byte) error {
	var flat []json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("table: %w: body is not an array: %v", errs.ErrCorruptPatchBody, err)
	}
	if len(flat)%2 != 0 {
		return fmt.Errorf("table: %w: odd-length (op, payload) array", errs.ErrCorruptPatchBody)
	}
	out := make(Body, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		var op Op
		if err := json.Unmarshal(flat[i], &op); err != nil {
			return fmt.Errorf("table: %w: decoding op: %v", errs.ErrCorruptPatchBody, err)
		}
		var payload []Record
		if err := json.Unmarshal(flat[i+1], &payload); err != nil {
			return fmt.Errorf("table: %w: decoding payload: %v", errs.ErrCorruptPatchBody, err)
		}
		out = append(out, Entry{Op: op, Payload: payload})
	}
	*b = out
	return nil
}

// asBody normalizes an opaque patch body into a Body. A body arriving
// as json.RawMessage/[]byte (an envelope just decoded off the wire, see
// patch.Envelope's UnmarshalJSON) is parsed via Body's own UnmarshalJSON
// instead of being rejected as an unrecognized concrete type.
func asBody(body interface{}) (Body, error) {
	switch b := body.(type) {
	case Body:
		return b, nil
	case *Body:
		return *b, nil
	case []Entry:
		return Body(b), nil
	case json.RawMessage:
		return decodeBody(b)
	case []byte:
		return decodeBody(b)
	default:
		return nil, fmt.Errorf("table: %w: patch body has unexpected type %T", errs.ErrCorruptPatchBody, body)
	}
}

func decodeBody(raw []byte) (Body, error) {
	var out Body
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// splitRecord partitions r into whereKeys (non-null primary key fields)
// and setFields (everything else, including null-valued primary key
// fields) per SPEC_FULL.md §A.4.2.3's upsert rule.
func splitRecord(r Record, cfg Config) (where, setFields Record) {
	where = Record{}
	setFields = Record{}
	for k, v := range r {
		if cfg.isPK(k) && v != nil {
			where[k] = v
		} else {
			setFields[k] = v
		}
	}
	return where, setFields
}
