// Package errs declares the sentinel errors shared across patchflow's
// packages. Call sites wrap these with fmt.Errorf("...: %w", err) to add
// context; callers match with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidPatchID covers PatchId decode failures: wrong length,
	// missing delimiter, empty client token, non-base-36 time digits.
	ErrInvalidPatchID = errors.New("invalid patch id")

	// ErrUnknownPatchID is returned when a graph lookup misses.
	ErrUnknownPatchID = errors.New("unknown patch id")

	// ErrParentMissing is returned when ancestor traversal hits a
	// parent id not present in the graph.
	ErrParentMissing = errors.New("parent patch missing")

	// ErrChainLimitExceeded is returned by GetParentChains when the
	// number of enumerated root-ward paths exceeds the configured limit.
	ErrChainLimitExceeded = errors.New("parent chain enumeration exceeded limit")

	// ErrInvalidWhere is returned when a table codec "where" clause
	// references a field that is not a primary key.
	ErrInvalidWhere = errors.New("where clause references non primary key field")

	// ErrInvalidFieldType is returned when a stringCols field arrives as
	// something other than a string or a text-diff patch array.
	ErrInvalidFieldType = errors.New("invalid field type for string column")

	// ErrCorruptPatchBody is returned when a table patch body is not the
	// expected alternating (op, payload) array shape.
	ErrCorruptPatchBody = errors.New("corrupt patch body")

	// ErrNotInitialized is returned by Session methods used before Init.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrConfigError covers table codec construction without a primary
	// key, PatchId encoding given a negative or overflowing time, and
	// similar configuration mistakes.
	ErrConfigError = errors.New("invalid configuration")

	// ErrSessionClosed is returned by Session methods used after Close.
	ErrSessionClosed = errors.New("session closed")
)
