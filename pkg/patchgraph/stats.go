package patchgraph

// Stats is a snapshot of the graph's size and cache occupancy, exposed
// for diagnostics and tests (not named by the distilled spec; a natural
// extension given the three-tier cache SPEC_FULL.md §B.3 calls for
// surfacing).
type Stats struct {
	PatchCount  int
	HeadCount   int
	ValueCache  int
	ReachCache  int
	MergeCache  int
}

// Stats returns a point-in-time snapshot of the graph's size.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	patchCount := len(g.patches)
	g.mu.RUnlock()

	return Stats{
		PatchCount: patchCount,
		HeadCount:  len(g.GetHeads()),
		ValueCache: g.valueCache.Len(),
		ReachCache: g.reachCache.Len(),
		MergeCache: g.mergeCache.Len(),
	}
}
