// Package patch declares the shared wire/persistence types the patch
// graph and session operate on (SPEC_FULL.md §A.3, §A.6): the patch
// envelope, range/value-option types, and the merge strategy constant.
package patch

import (
	"encoding/json"

	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// MergeStrategy selects how Graph.Value combines multiple reachable
// heads. apply-all is the sole implemented strategy (SPEC_FULL.md
// §A.9); ThreeWay is a reserved, unimplemented constant.
type MergeStrategy string

const (
	MergeApplyAll MergeStrategy = "apply-all"
	MergeThreeWay MergeStrategy = "three-way"
)

// SeqInfo carries an adapter-assigned sequence number and the sequence
// number of the envelope it followed, for adapters that want gap
// detection independent of PatchId ordering.
type SeqInfo struct {
	Seq     int64 `json:"seq"`
	PrevSeq int64 `json:"prevSeq"`
}

// Envelope is one DAG node: an immutable patch plus its provenance.
// Fields beyond ID/Body/Parents are optional per SPEC_FULL.md §A.6.1.
type Envelope struct {
	ID           patchid.ID  `json:"id"`
	Wall         int64       `json:"wall,omitempty"`
	Body         interface{} `json:"body,omitempty"`
	Parents      []patchid.ID `json:"parents"`
	UserID       string      `json:"userId,omitempty"`
	Version      uint64      `json:"version,omitempty"`
	IsSnapshot   bool        `json:"isSnapshot,omitempty"`
	SnapshotText string      `json:"snapshotText,omitempty"`
	File         bool        `json:"file,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	Source       string      `json:"source,omitempty"`
	Seq          *SeqInfo    `json:"seqInfo,omitempty"`
}

// Clone returns a shallow copy of env with its own Parents slice, safe
// to mutate independently (patches are otherwise immutable post-insertion
// except for snapshot-data attachment — see Graph.Add).
func (env Envelope) Clone() Envelope {
	out := env
	out.Parents = append([]patchid.ID(nil), env.Parents...)
	return out
}

// Range bounds a PatchId query; both ends are inclusive when set.
type Range struct {
	Start *patchid.ID
	End   *patchid.ID
}

// InRange reports whether id falls within r's inclusive bounds.
func (r Range) InRange(id patchid.ID) bool {
	if r.Start != nil && patchid.Less(id, *r.Start) {
		return false
	}
	if r.End != nil && patchid.Less(*r.End, id) {
		return false
	}
	return true
}

// AncestorOptions configures GetAncestors/GetParentChains.
type AncestorOptions struct {
	IncludeSelf    bool
	StopAtSnapshots bool
	Limit          int // GetParentChains only; 0 means the graph's ChainLimit config, else DefaultChainLimit
}

// DefaultChainLimit is the default cap on parent-chain enumeration
// (SPEC_FULL.md §A.4.3).
const DefaultChainLimit = 1000

// HistoryOptions configures Graph.History.
type HistoryOptions struct {
	Range
	IncludeSnapshots bool
}

// ValueOptions configures Graph.Value.
type ValueOptions struct {
	// Time, if set, restricts target heads to exactly {Time} instead of
	// using the graph's current heads.
	Time *patchid.ID
	// WithoutTimes removes exactly these ids from the reachable set; their
	// own ancestors stay in it.
	WithoutTimes []patchid.ID
	// MergeStrategy defaults to MergeApplyAll when empty.
	MergeStrategy MergeStrategy
}

// MarshalJSON/UnmarshalJSON round-trip Envelope to newline-delimited
// JSON for the in-memory reference adapters and wsrelay (SPEC_FULL.md
// §A.6.1): the id travels as its string form. Body is never decoded
// into a generic interface{} shape (a map/slice that no codec's
// ApplyPatch recognizes) — UnmarshalJSON instead leaves it as
// json.RawMessage, deferring the decode to whichever codec the
// receiving Graph/Document was built with. Each codec's asPatch/asBody
// (text.go, table/patch.go) knows how to turn that RawMessage into its
// own concrete wire type.
func (env Envelope) MarshalJSON() ([]byte, error) {
	type wire Envelope
	return json.Marshal(wire(env))
}

func (env *Envelope) UnmarshalJSON(data []byte) error {
	type wire struct {
		ID           patchid.ID             `json:"id"`
		Wall         int64                  `json:"wall,omitempty"`
		Body         json.RawMessage        `json:"body,omitempty"`
		Parents      []patchid.ID           `json:"parents"`
		UserID       string                 `json:"userId,omitempty"`
		Version      uint64                 `json:"version,omitempty"`
		IsSnapshot   bool                   `json:"isSnapshot,omitempty"`
		SnapshotText string                 `json:"snapshotText,omitempty"`
		File         bool                   `json:"file,omitempty"`
		Meta         map[string]interface{} `json:"meta,omitempty"`
		Source       string                 `json:"source,omitempty"`
		Seq          *SeqInfo               `json:"seqInfo,omitempty"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*env = Envelope{
		ID:           w.ID,
		Wall:         w.Wall,
		Parents:      w.Parents,
		UserID:       w.UserID,
		Version:      w.Version,
		IsSnapshot:   w.IsSnapshot,
		SnapshotText: w.SnapshotText,
		File:         w.File,
		Meta:         w.Meta,
		Source:       w.Source,
		Seq:          w.Seq,
	}
	if len(w.Body) > 0 && string(w.Body) != "null" {
		env.Body = w.Body
	}
	if env.Parents == nil {
		env.Parents = []patchid.ID{}
	}
	return nil
}
