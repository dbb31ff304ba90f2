// Package text implements doccodec.Codec for free-form strings,
// delegating actual diff/patch computation to pkg/textdiff (the
// specification's external TextDiff black box), plus the three-way
// merge used by working-copy rebase (SPEC_FULL.md §A.4.2.1, §A.4.2.2).
package text

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/textdiff"
)

// Document is a text document: just a string, wrapped so it satisfies
// doccodec.Document.
type Document struct {
	text string
}

// New wraps s as a text Document.
func New(s string) *Document { return &Document{text: s} }

// Text returns the raw string, for callers (like Session's three-way
// rebase) that need string-level access the generic interface doesn't
// expose.
func (d *Document) Text() string { return d.text }

func (d *Document) String() string { return d.text }
func (d *Document) Count() int     { return len([]rune(d.text)) }
func (d *Document) Size() int64    { return int64(len(d.text)) }

func (d *Document) IsEqual(other doccodec.Document) bool {
	o, ok := other.(*Document)
	if !ok {
		return false
	}
	return d.text == o.text
}

func (d *Document) ApplyPatch(body interface{}) (doccodec.Document, error) {
	patch, err := asPatch(body)
	if err != nil {
		return nil, err
	}
	out, _ := Service.Apply(d.text, patch)
	return &Document{text: out}, nil
}

func (d *Document) ApplyPatchBatch(bodies []interface{}) (doccodec.Document, error) {
	var cur doccodec.Document = d
	for _, b := range bodies {
		if b == nil {
			continue
		}
		var err error
		cur, err = cur.ApplyPatch(b)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (d *Document) MakePatch(other doccodec.Document) (interface{}, error) {
	o, ok := other.(*Document)
	if !ok {
		return nil, fmt.Errorf("text: MakePatch: other document is not a text document (%T)", other)
	}
	return Service.Diff(d.text, o.text), nil
}

// asPatch normalizes an opaque patch body into a textdiff.Patch. A body
// arriving as json.RawMessage/[]byte (an envelope just decoded off the
// wire by patch.Envelope's UnmarshalJSON, which defers body decoding to
// the codec) is parsed directly into textdiff.Patch rather than
// rejected as an unrecognized concrete type.
func asPatch(body interface{}) (textdiff.Patch, error) {
	switch p := body.(type) {
	case textdiff.Patch:
		return p, nil
	case *textdiff.Patch:
		return *p, nil
	case json.RawMessage:
		return decodePatch(p)
	case []byte:
		return decodePatch(p)
	default:
		return textdiff.Patch{}, fmt.Errorf("text: patch body has unexpected type %T", body)
	}
}

func decodePatch(raw []byte) (textdiff.Patch, error) {
	var p textdiff.Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return textdiff.Patch{}, fmt.Errorf("text: decoding patch body: %w", err)
	}
	return p, nil
}

// ApplyWithCleanliness applies body and additionally reports whether
// every hunk matched exactly. The generic doccodec.Document.ApplyPatch
// path silently falls back to the unchanged document on an unclean
// patch (SPEC_FULL.md §A.9's resolved open question); callers that
// need to know can call this instead.
func ApplyWithCleanliness(doc *Document, body interface{}, log logging.Logger) (*Document, bool, error) {
	patch, err := asPatch(body)
	if err != nil {
		return nil, false, err
	}
	out, clean := Service.Apply(doc.text, patch)
	if !clean && log != nil {
		log.Warn("text patch did not apply cleanly; document left unchanged")
	}
	return &Document{text: out}, clean, nil
}

// Service is the TextDiff implementation text documents delegate to.
// It is a package-level var (not a constant) so tests and callers that
// need a different diff engine can swap it; patchflow ships
// pkg/textdiff's reference LCS implementation as the default.
var Service textdiff.Service = textdiff.New()

// Codec implements doccodec.Codec for text documents. ToString and
// FromString are the identity function (SPEC_FULL.md §A.4.2.1).
type Codec struct{}

// NewCodec returns the text codec.
func NewCodec() *Codec { return &Codec{} }

func (Codec) FromString(s string) (doccodec.Document, error) { return New(s), nil }
func (Codec) ToString(doc doccodec.Document) string {
	d, ok := doc.(*Document)
	if !ok {
		return ""
	}
	return d.text
}
func (Codec) Empty() doccodec.Document { return New("") }

// ThreeWayMerge implements SPEC_FULL.md §A.4.2.2: a deterministic weave
// of base→local and base→remote line edits, prefer-local on conflicting
// deletes, never producing conflict markers. Used by working-copy
// rebase, not by the patch graph's own head-merge (which replays all
// reachable patches in id order instead).
func ThreeWayMerge(base, local, remote string) string {
	if local == remote {
		return local
	}
	if base == remote {
		return local
	}
	if base == local {
		return remote
	}

	baseLines := splitLines(base)
	localDiff := Service.Diff(base, local)
	remoteDiff := Service.Diff(base, remote)

	localOps := expandOps(localDiff)
	remoteOps := expandOps(remoteDiff)

	var out strings.Builder
	li, ri := 0, 0 // index into localOps / remoteOps
	bi := 0        // index into baseLines (consumed by equal/delete ops)

	emitted := make(map[string]bool)

	for bi < len(baseLines) || li < len(localOps) || ri < len(remoteOps) {
		// Emit local inserts at this boundary first.
		for li < len(localOps) && localOps[li].op == textdiff.OpInsert {
			out.WriteString(localOps[li].text)
			emitted[localOps[li].text] = true
			li++
		}
		// Then remote inserts not already emitted by local (dedupe
		// identical strings at this boundary).
		for ri < len(remoteOps) && remoteOps[ri].op == textdiff.OpInsert {
			if !emitted[remoteOps[ri].text] {
				out.WriteString(remoteOps[ri].text)
			}
			ri++
		}
		emitted = make(map[string]bool)

		if bi >= len(baseLines) {
			break
		}

		// Consume the matching base segment from both op streams.
		localDeletes := li < len(localOps) && localOps[li].op == textdiff.OpDelete
		remoteDeletes := ri < len(remoteOps) && remoteOps[ri].op == textdiff.OpDelete

		line := baseLines[bi]
		if !localDeletes && !remoteDeletes {
			out.WriteString(line)
		}
		// Prefer-local: drop the segment if either side deleted it.
		if li < len(localOps) {
			li++
		}
		if ri < len(remoteOps) {
			ri++
		}
		bi++
	}

	return out.String()
}

type weaveOp struct {
	op   textdiff.Op
	text string
}

// expandOps flattens a Patch's hunks into one weaveOp per base line
// (equal/delete) or insert run, matching the one-line-per-base-line
// granularity ThreeWayMerge's weave walks.
func expandOps(p textdiff.Patch) []weaveOp {
	var ops []weaveOp
	for _, h := range p.Hunks {
		switch h.Op {
		case textdiff.OpInsert:
			ops = append(ops, weaveOp{op: textdiff.OpInsert, text: h.Text})
		case textdiff.OpEqual, textdiff.OpDelete:
			for _, line := range splitLines(h.Text) {
				ops = append(ops, weaveOp{op: h.Op, text: line})
			}
		}
	}
	return ops
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
