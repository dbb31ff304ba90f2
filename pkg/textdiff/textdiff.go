// Package textdiff is patchflow's one concrete implementation of the
// TextDiff black box the specification treats as an external
// collaborator (see SPEC_FULL.md §A.1, §A.4.2.1). The text codec and
// the table codec's diff-encoded string columns both call through the
// Service interface; nothing else in the module assumes this particular
// algorithm, so a production system can swap in a real
// diff-match-patch-style library without touching the codecs.
//
// The algorithm is a line-level longest-common-subsequence diff, the
// same algorithmic family as the teacher's array-diffing
// (DeltaComputer's ArrayDiffLCS in pkg/state/delta.go), generalized from
// diffing generic array elements to diffing text lines.
package textdiff

import (
	"fmt"
	"strings"
)

// Op is a hunk's operation: keep, delete, or insert.
type Op int8

const (
	OpDelete Op = -1
	OpEqual  Op = 0
	OpInsert Op = 1
)

// Hunk is one run of same-operation lines, concatenated back together.
type Hunk struct {
	Op   Op
	Text string
}

// Patch is an ordered list of hunks plus informational start/length
// fields. Diff always sets Start1 and Start2 to 0 and Length1/Length2 to
// the line counts of the two texts. As a plain struct it encodes to JSON
// as an object with these field names, not as a positional array.
type Patch struct {
	Hunks          []Hunk
	Start1, Start2 int
	Length1, Length2 int
}

// Service is the TextDiff black box: compute a patch from a to b, and
// apply a previously-computed patch to some text.
type Service interface {
	Diff(a, b string) Patch
	Apply(text string, patch Patch) (result string, clean bool)
}

// lineDiff is the reference Service implementation.
type lineDiff struct{}

// New returns patchflow's reference TextDiff implementation.
func New() Service { return lineDiff{} }

// Diff computes a line-level LCS diff between a and b.
func (lineDiff) Diff(a, b string) Patch {
	linesA := splitKeepEnds(a)
	linesB := splitKeepEnds(b)

	ops := lcsOps(linesA, linesB)
	hunks := groupHunks(ops)

	return Patch{
		Hunks:   hunks,
		Start1:  0,
		Start2:  0,
		Length1: len(linesA),
		Length2: len(linesB),
	}
}

// Apply replays patch's hunks against text. If any delete/equal hunk's
// expected text doesn't match what's actually in text at the current
// cursor, the patch is considered unclean and the original text is
// returned unchanged (§A.4.2.1: "if any hunk fails to apply exactly,
// the unchanged input is returned").
func (lineDiff) Apply(text string, patch Patch) (string, bool) {
	var out strings.Builder
	cursor := 0

	for _, h := range patch.Hunks {
		switch h.Op {
		case OpEqual, OpDelete:
			end := cursor + len(h.Text)
			if end > len(text) || text[cursor:end] != h.Text {
				return text, false
			}
			if h.Op == OpEqual {
				out.WriteString(h.Text)
			}
			cursor = end
		case OpInsert:
			out.WriteString(h.Text)
		default:
			return text, false
		}
	}
	out.WriteString(text[cursor:])
	return out.String(), true
}

// splitKeepEnds splits s into lines, keeping the trailing newline (if
// any) attached to each line, so re-concatenation round-trips exactly.
func splitKeepEnds(s string) []string {
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

type lineOp struct {
	op   Op
	line string
}

// lcsOps computes a minimal edit script (equal/delete/insert) between
// two line slices using the standard dynamic-programming LCS table,
// then backtracks it into an ordered list of line operations.
func lcsOps(a, b []string) []lineOp {
	n, m := len(a), len(b)
	// dp[i][j] = length of LCS of a[i:], b[j:]
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]lineOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{OpEqual, a[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			ops = append(ops, lineOp{OpDelete, a[i]})
			i++
		default:
			ops = append(ops, lineOp{OpInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, lineOp{OpDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, lineOp{OpInsert, b[j]})
	}
	return ops
}

// groupHunks merges consecutive same-op line ops into single hunks, so
// a run of N unchanged lines is one OpEqual hunk instead of N.
func groupHunks(ops []lineOp) []Hunk {
	var hunks []Hunk
	for _, o := range ops {
		if len(hunks) > 0 && hunks[len(hunks)-1].Op == o.op {
			hunks[len(hunks)-1].Text += o.line
			continue
		}
		hunks = append(hunks, Hunk{Op: o.op, Text: o.line})
	}
	return hunks
}

// String renders a patch in a human-readable unified-diff-ish form, for
// debugging and SummarizeHistory-style output.
func (p Patch) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", p.Start1, p.Length1, p.Start2, p.Length2)
	for _, h := range p.Hunks {
		prefix := " "
		switch h.Op {
		case OpDelete:
			prefix = "-"
		case OpInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(h.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
