package patchgraph

import (
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// Versions returns all known ids, ascending, optionally filtered to r's
// inclusive bounds. A nil range returns every id.
func (g *Graph) Versions(r *patch.Range) []patchid.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r == nil {
		return append([]patchid.ID(nil), g.sorted...)
	}
	return filterRange(g.sorted, *r)
}

// VersionsInRange is Versions with a required range.
func (g *Graph) VersionsInRange(r patch.Range) []patchid.ID { return g.Versions(&r) }

func filterRange(sorted []patchid.ID, r patch.Range) []patchid.ID {
	out := make([]patchid.ID, 0, len(sorted))
	for _, id := range sorted {
		if r.InRange(id) {
			out = append(out, id)
		}
	}
	return out
}

// History returns envelopes in sorted id order, filtered by opts.Range
// and whether snapshot nodes are included.
func (g *Graph) History(opts patch.HistoryOptions) []patch.Envelope {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := filterRange(g.sorted, opts.Range)
	out := make([]patch.Envelope, 0, len(ids))
	for _, id := range ids {
		env := g.patches[id]
		if env.IsSnapshot && !opts.IncludeSnapshots {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Version is a convenience for Value({Time: id}).
func (g *Graph) Version(id patchid.ID) (doccodec.Document, error) {
	if _, err := g.GetPatch(id); err != nil {
		return nil, err
	}
	return g.Value(patch.ValueOptions{Time: &id})
}
