package patchgraph

import (
	"fmt"
	"sort"

	"github.com/sagemathinc/patchflow/internal/errs"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// GetAncestors performs a DFS ascending through parents starting at
// ids, optionally stopping descent at snapshot nodes. Returns the
// visited set sorted ascending (SPEC_FULL.md §A.4.3).
func (g *Graph) GetAncestors(ids []patchid.ID, opts patch.AncestorOptions) ([]patchid.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[patchid.ID]bool{}
	var stack []patchid.ID
	for _, id := range ids {
		if _, ok := g.patches[id]; !ok {
			return nil, fmt.Errorf("patchgraph: %w: %q", errs.ErrUnknownPatchID, id)
		}
		stack = append(stack, id)
		if opts.IncludeSelf {
			visited[id] = true
		}
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		env, ok := g.patches[id]
		if !ok {
			return nil, fmt.Errorf("patchgraph: %w: %q", errs.ErrParentMissing, id)
		}
		if opts.StopAtSnapshots && env.IsSnapshot {
			continue // do not descend past a snapshot node
		}
		for _, p := range env.Parents {
			if visited[p] {
				continue
			}
			visited[p] = true
			stack = append(stack, p)
		}
	}

	out := make([]patchid.ID, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return patchid.Less(out[i], out[j]) })
	return out, nil
}

// GetParentChains enumerates root-ward paths from id: each path is a
// slice of ids from id down to a terminal (a node with no parents, or,
// when StopAtSnapshots is set, a snapshot node, which is included as
// the path's terminal element). Errors if enumeration would exceed
// Limit (when 0: the graph's configured ChainLimit, or
// patch.DefaultChainLimit if that is unset too).
func (g *Graph) GetParentChains(id patchid.ID, opts patch.AncestorOptions) ([][]patchid.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.patches[id]; !ok {
		return nil, fmt.Errorf("patchgraph: %w: %q", errs.ErrUnknownPatchID, id)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = g.cfg.ChainLimit
	}
	if limit <= 0 {
		limit = patch.DefaultChainLimit
	}

	var chains [][]patchid.ID
	count := 0
	var walk func(current []patchid.ID, at patchid.ID) error
	walk = func(current []patchid.ID, at patchid.ID) error {
		env := g.patches[at]
		path := append(append([]patchid.ID(nil), current...), at)

		if len(env.Parents) == 0 || (opts.StopAtSnapshots && env.IsSnapshot && len(current) > 0) {
			count++
			if count > limit {
				return fmt.Errorf("patchgraph: %w: limit %d", errs.ErrChainLimitExceeded, limit)
			}
			chains = append(chains, path)
			return nil
		}
		for _, p := range env.Parents {
			if _, ok := g.patches[p]; !ok {
				return fmt.Errorf("patchgraph: %w: %q of %q", errs.ErrParentMissing, p, at)
			}
			if err := walk(path, p); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(nil, id); err != nil {
		return nil, err
	}
	return chains, nil
}
