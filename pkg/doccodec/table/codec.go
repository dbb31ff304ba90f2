package table

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
)

// Codec implements doccodec.Codec for table documents.
type Codec struct {
	cfg Config
	log logging.Logger
}

// NewCodec returns a table codec for the given configuration.
func NewCodec(cfg Config, log logging.Logger) *Codec {
	if log == nil {
		log = logging.Nop()
	}
	return &Codec{cfg: cfg, log: log}
}

func (c *Codec) Empty() doccodec.Document { return Empty(c.cfg) }

// FromString parses one JSON object per line. Non-object lines are
// dropped with a warning and empty lines are skipped silently, per
// SPEC_FULL.md §A.4.2.3.
func (c *Codec) FromString(s string) (doccodec.Document, error) {
	ws := &workingState{cfg: c.cfg, idx: pkIndexes{}}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			c.log.Warn("table: skipping corrupt line", logging.Err(err))
			continue
		}
		if rec == nil {
			c.log.Warn("table: skipping non-object line")
			continue
		}
		slot := len(ws.records)
		ws.records = append(ws.records, rec)
		ws.indexRecord(slot, rec)
		ws.count++
	}
	return ws.toDocument(), nil
}

// ToString serializes doc as one stable-JSON-encoded line per defined
// record, sorted lexicographically (SPEC_FULL.md §A.4.2.3).
func ToString(doc doccodec.Document) string {
	d, ok := doc.(*Document)
	if !ok {
		return ""
	}
	lines := make([]string, 0, d.count)
	for _, r := range d.records {
		if r == nil {
			continue
		}
		lines = append(lines, stableEncodeRecord(r))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func (c *Codec) ToString(doc doccodec.Document) string { return ToString(doc) }
