package patchgraph

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/sagemathinc/patchflow/internal/errs"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// Value computes the document at opts.Time (or the current heads if
// unset), excluding opts.WithoutTimes, per the algorithm in
// SPEC_FULL.md §A.4.3: short-circuit on no heads, reachable-set DFS
// stopping at snapshots, floor-snapshot seeding, ascending replay with
// file-load dedup, and the three-tier cache.
func (g *Graph) Value(opts patch.ValueOptions) (doccodec.Document, error) {
	heads, err := g.targetHeads(opts.Time)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return g.codec.FromString("")
	}

	without := map[patchid.ID]bool{}
	for _, id := range opts.WithoutTimes {
		without[id] = true
	}

	key, err := g.singleflightKey(heads, without, opts.MergeStrategy)
	if err != nil {
		return nil, err
	}
	doc, err, _ := g.sf.Do(key, func() (interface{}, error) {
		return g.computeValue(heads, without)
	})
	if err != nil {
		return nil, err
	}
	return doc.(doccodec.Document), nil
}

func (g *Graph) singleflightKey(heads []patchid.ID, without map[patchid.ID]bool, strategy patch.MergeStrategy) (string, error) {
	var b strings.Builder
	for i, h := range heads {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(h))
	}
	b.WriteByte('|')
	wt := make([]string, 0, len(without))
	for id := range without {
		wt = append(wt, string(id))
	}
	sort.Strings(wt)
	b.WriteString(strings.Join(wt, ","))
	b.WriteByte('|')
	b.WriteString(string(strategy))
	return b.String(), nil
}

func (g *Graph) targetHeads(time *patchid.ID) ([]patchid.ID, error) {
	if time == nil {
		return g.GetHeads(), nil
	}
	if _, err := g.GetPatch(*time); err != nil {
		return nil, err
	}
	return []patchid.ID{*time}, nil
}

func (g *Graph) computeValue(heads []patchid.ID, without map[patchid.ID]bool) (doccodec.Document, error) {
	multiHead := len(heads) > 1 && len(without) == 0
	var mergeKey string
	if multiHead {
		mergeKey = mergeCacheKey(heads)
		if cached, ok := g.mergeCache.Get(mergeKey); ok {
			if g.metrics != nil {
				g.metrics.CacheHit("merge")
			}
			return cached, nil
		}
		if g.metrics != nil {
			g.metrics.CacheMiss("merge")
		}
	}

	ordered, err := g.reachableOrdered(heads, without)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return g.codec.FromString("")
	}

	g.mu.RLock()
	envs := make(map[patchid.ID]patch.Envelope, len(ordered))
	for _, id := range ordered {
		envs[id] = g.patches[id]
	}
	g.mu.RUnlock()

	floorIdx, floorEnv, hasFloor := latestSnapshot(ordered, envs)

	var baseDoc doccodec.Document
	var remaining []patchid.ID
	if hasFloor {
		base, err := g.codec.FromString(floorEnv.SnapshotText)
		if err != nil {
			return nil, fmt.Errorf("patchgraph: decoding snapshot at %q: %w", floorEnv.ID, err)
		}
		baseDoc = base
		remaining = ordered[floorIdx+1:]
	} else {
		baseDoc = g.codec.Empty()
		remaining = ordered
	}

	deduped := fileDedupPass(remaining, envs, g.cfg.FileDedupMS)

	var doc doccodec.Document
	startIdx := 0
	if len(without) == 0 {
		doc, startIdx = g.resolveCachePrefix(heads, deduped)
	}
	if doc == nil {
		doc = baseDoc
		startIdx = 0
	}

	bodies := make([]interface{}, 0, len(deduped)-startIdx)
	for _, id := range deduped[startIdx:] {
		bodies = append(bodies, envs[id].Body)
	}

	if g.metrics != nil {
		g.metrics.ReplaySize(len(bodies))
	}

	result, err := doc.ApplyPatchBatch(bodies)
	if err != nil {
		return nil, err
	}

	if len(heads) == 1 && len(without) == 0 {
		g.valueCache.Add(string(heads[0]), valueEntry{doc: result, appliedCount: len(deduped)})
	}
	if multiHead {
		g.mergeCache.Add(mergeKey, result)
	}
	return result, nil
}

// reachableOrdered computes the DFS-reachable set from heads (stopping
// descent at snapshot nodes), subtracts without, and returns the
// remaining ids sorted ascending. Uses the reachability cache for the
// single-head, no-exclusion case.
func (g *Graph) reachableOrdered(heads []patchid.ID, without map[patchid.ID]bool) ([]patchid.ID, error) {
	cacheable := len(heads) == 1 && len(without) == 0
	var cacheKey string
	if cacheable {
		cacheKey = string(heads[0])
		if entry, ok := g.reachCache.Get(cacheKey); ok {
			return entry.ordered, nil
		}
	}

	g.mu.RLock()
	visited := map[patchid.ID]bool{}
	var stack []patchid.ID
	for _, h := range heads {
		if _, ok := g.patches[h]; !ok {
			g.mu.RUnlock()
			return nil, fmt.Errorf("patchgraph: %w: %q", errs.ErrUnknownPatchID, h)
		}
		visited[h] = true
		stack = append(stack, h)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		env := g.patches[id]
		if env.IsSnapshot {
			continue // do not descend past a snapshot
		}
		for _, p := range env.Parents {
			if visited[p] {
				continue
			}
			if _, ok := g.patches[p]; !ok {
				g.mu.RUnlock()
				return nil, fmt.Errorf("patchgraph: %w: %q of %q", errs.ErrParentMissing, p, id)
			}
			visited[p] = true
			stack = append(stack, p)
		}
	}
	g.mu.RUnlock()

	ordered := make([]patchid.ID, 0, len(visited))
	for id := range visited {
		if without[id] {
			continue
		}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return patchid.Less(ordered[i], ordered[j]) })

	if cacheable {
		g.reachCache.Add(cacheKey, reachEntry{reachable: visited, ordered: ordered})
	}
	return ordered, nil
}

// latestSnapshot finds the snapshot with the greatest id in ordered, if
// any, and its position within ordered.
func latestSnapshot(ordered []patchid.ID, envs map[patchid.ID]patch.Envelope) (idx int, env patch.Envelope, ok bool) {
	for i := len(ordered) - 1; i >= 0; i-- {
		e := envs[ordered[i]]
		if e.IsSnapshot {
			return i, e, true
		}
	}
	return 0, patch.Envelope{}, false
}

// fileDedupPass drops a patch p whose immediate predecessor last also
// has File=true, a deep-equal body, and whose decoded time is within
// FileDedupMS of p's (SPEC_FULL.md §A.3.2 invariant 7).
func fileDedupPass(ordered []patchid.ID, envs map[patchid.ID]patch.Envelope, dedupMS int64) []patchid.ID {
	if len(ordered) == 0 {
		return ordered
	}
	out := make([]patchid.ID, 0, len(ordered))
	out = append(out, ordered[0])
	for i := 1; i < len(ordered); i++ {
		cur := envs[ordered[i]]
		last := envs[out[len(out)-1]]
		if cur.File && last.File && reflect.DeepEqual(cur.Body, last.Body) {
			curT, _, errC := patchid.Decode(cur.ID)
			lastT, _, errL := patchid.Decode(last.ID)
			if errC == nil && errL == nil && curT-lastT <= dedupMS {
				continue // drop cur, coalesced into last
			}
		}
		out = append(out, ordered[i])
	}
	return out
}

// resolveCachePrefix implements the "Single-head cache" prefix-reuse
// heuristic: walk deduped backwards looking for any id whose cached
// value-entry has appliedCount == index+1, and reuse that document as
// the replay base. Only applies to single-head, no-exclusion requests
// (the only case deduped is guaranteed to be the same chain across
// calls sharing cache entries).
func (g *Graph) resolveCachePrefix(heads []patchid.ID, deduped []patchid.ID) (doccodec.Document, int) {
	if len(heads) != 1 {
		return nil, 0
	}
	if entry, ok := g.valueCache.Get(string(heads[0])); ok && entry.appliedCount == len(deduped) {
		if g.metrics != nil {
			g.metrics.CacheHit("value")
		}
		return entry.doc, len(deduped)
	}
	for i := len(deduped) - 1; i >= 0; i-- {
		if entry, ok := g.valueCache.Get(string(deduped[i])); ok && entry.appliedCount == i+1 {
			if g.metrics != nil {
				g.metrics.CacheHit("value")
			}
			return entry.doc, i + 1
		}
	}
	if g.metrics != nil {
		g.metrics.CacheMiss("value")
	}
	return nil, 0
}

func mergeCacheKey(heads []patchid.ID) string {
	ids := make([]string, len(heads))
	for i, h := range heads {
		ids[i] = string(h)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
