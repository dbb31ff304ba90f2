// Package doccodec declares the polymorphic Document/Codec interface
// the patch graph replays against (SPEC_FULL.md §A.3.1, §A.4.2). The
// graph never inspects a PatchBody itself; it is opaque data owned by
// whichever Codec implementation is active for a session. Two concrete
// codecs live in the text and table subpackages.
package doccodec

// Document is an immutable materialized document value. Every method
// returns a new Document rather than mutating the receiver — the patch
// graph's caches hold long-lived references to Documents and a
// mutation would silently corrupt them (SPEC_FULL.md §9 design notes).
type Document interface {
	// ApplyPatch applies one opaque patch body and returns the
	// resulting document.
	ApplyPatch(body interface{}) (Document, error)
	// ApplyPatchBatch applies a sequence of opaque patch bodies as one
	// logical transaction. The default behavior for a codec that does
	// not need batch-level optimization is to iterate ApplyPatch; the
	// table codec overrides this for its incremental-index performance
	// contract (SPEC_FULL.md §A.4.2.3).
	ApplyPatchBatch(bodies []interface{}) (Document, error)
	// MakePatch computes the opaque patch body that transforms this
	// document into other.
	MakePatch(other Document) (interface{}, error)
	// IsEqual reports semantic equality with another document of the
	// same codec.
	IsEqual(other Document) bool
	// String renders the document's serialized string form.
	String() string
	// Count is the codec-defined size measure (characters for text,
	// record count for table) used by debug output and cache sizing.
	Count() int
	// Size is a cheap upper-bound byte estimate, used only to drive LRU
	// eviction in the patch graph's value cache — never correctness.
	Size() int64
}

// Codec constructs and serializes Documents for one document family.
// FromString/ToString must round-trip losslessly for the text codec and
// semantically (same records) for the table codec.
type Codec interface {
	// FromString parses a serialized document into a Document.
	FromString(s string) (Document, error)
	// ToString serializes a Document back to its string form.
	ToString(doc Document) string
	// Empty returns the codec's empty document (FromString("")).
	Empty() Document
}
