// Package patchgraph implements the patch DAG (SPEC_FULL.md §A.4.3): a
// map of PatchId to Envelope, a reverse child index, topology queries,
// and a three-tier cache in front of the value-computation algorithm.
package patchgraph

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sagemathinc/patchflow/internal/config"
	"github.com/sagemathinc/patchflow/internal/errs"
	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/internal/metrics"
	"github.com/sagemathinc/patchflow/pkg/doccodec"
	"github.com/sagemathinc/patchflow/pkg/patch"
	"github.com/sagemathinc/patchflow/pkg/patchid"
)

// Graph owns the patch DAG for one document. It is safe for concurrent
// use; all mutation and read paths hold mu. Per SPEC_FULL.md §A.4.4 a
// Graph is exclusively owned by one Session, but the lock makes it safe
// for adapter callbacks arriving on other goroutines regardless.
type Graph struct {
	mu       sync.RWMutex
	codec    doccodec.Codec
	cfg      config.Config
	log      logging.Logger
	metrics  *metrics.Collector

	patches  map[patchid.ID]patch.Envelope
	children map[patchid.ID][]patchid.ID
	sorted   []patchid.ID // ascending, kept in sync with patches

	valueCache *lru.Cache[string, valueEntry]
	reachCache *lru.Cache[string, reachEntry]
	mergeCache *lru.Cache[string, doccodec.Document]

	sf singleflight.Group
}

type valueEntry struct {
	doc          doccodec.Document
	appliedCount int
}

type reachEntry struct {
	reachable map[patchid.ID]bool
	ordered   []patchid.ID
}

// Option configures a Graph at construction time.
type Option func(*Graph)

// WithConfig overrides the default cache-sizing configuration.
func WithConfig(cfg config.Config) Option { return func(g *Graph) { g.cfg = cfg } }

// WithLogger attaches a structured logger (default: no-op).
func WithLogger(log logging.Logger) Option {
	return func(g *Graph) {
		if log != nil {
			g.log = log
		}
	}
}

// WithMetrics attaches a metrics collector (nil-safe; default: none).
func WithMetrics(m *metrics.Collector) Option { return func(g *Graph) { g.metrics = m } }

// New constructs an empty patch graph for the given document codec.
func New(codec doccodec.Codec, opts ...Option) *Graph {
	g := &Graph{
		codec:    codec,
		cfg:      config.Default(),
		log:      logging.Nop(),
		patches:  make(map[patchid.ID]patch.Envelope),
		children: make(map[patchid.ID][]patchid.ID),
	}
	for _, o := range opts {
		o(g)
	}
	g.valueCache, _ = lru.New[string, valueEntry](max1(g.cfg.MaxCacheEntries))
	g.reachCache, _ = lru.New[string, reachEntry](max1(g.cfg.ReachabilityCacheEntries))
	g.mergeCache, _ = lru.New[string, doccodec.Document](max1(g.cfg.MergeCacheEntries))
	return g
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Add inserts new patches into the graph (SPEC_FULL.md §A.3.2 invariant
// 1 & §A.4.3): appending an id that already exists is a no-op, except
// that snapshot data supplied on the new record but absent on the
// existing node is attached (snapshot-only merge). Every mutation
// invalidates the reachability and merge caches in full.
func (g *Graph) Add(envs []patch.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	for _, env := range envs {
		existing, ok := g.patches[env.ID]
		if ok {
			if env.IsSnapshot && !existing.IsSnapshot {
				existing.IsSnapshot = true
				existing.SnapshotText = env.SnapshotText
				g.patches[env.ID] = existing
				changed = true
			}
			continue
		}
		g.patches[env.ID] = env.Clone()
		g.insertSorted(env.ID)
		for _, p := range env.Parents {
			g.children[p] = append(g.children[p], env.ID)
		}
		changed = true
	}

	if changed {
		g.reachCache.Purge()
		g.mergeCache.Purge()
		g.log.Debug("graph: patches added", logging.Int("count", len(envs)), logging.Int("total", len(g.patches)))
	}
	return nil
}

func (g *Graph) insertSorted(id patchid.ID) {
	i := sort.Search(len(g.sorted), func(i int) bool { return !patchid.Less(g.sorted[i], id) })
	g.sorted = append(g.sorted, "")
	copy(g.sorted[i+1:], g.sorted[i:])
	g.sorted[i] = id
}

// GetHeads returns the ids that appear as no other patch's parent
// (leaf nodes of the DAG), sorted ascending.
func (g *Graph) GetHeads() []patchid.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.headsLocked()
}

func (g *Graph) headsLocked() []patchid.ID {
	var heads []patchid.ID
	for id := range g.patches {
		if len(g.children[id]) == 0 {
			heads = append(heads, id)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return patchid.Less(heads[i], heads[j]) })
	return heads
}

// GetPatch looks up a single envelope by id.
func (g *Graph) GetPatch(id patchid.ID) (patch.Envelope, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	env, ok := g.patches[id]
	if !ok {
		return patch.Envelope{}, fmt.Errorf("patchgraph: %w: %q", errs.ErrUnknownPatchID, id)
	}
	return env, nil
}

// GetParents returns a copy of id's parent list.
func (g *Graph) GetParents(id patchid.ID) ([]patchid.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	env, ok := g.patches[id]
	if !ok {
		return nil, fmt.Errorf("patchgraph: %w: %q", errs.ErrUnknownPatchID, id)
	}
	return append([]patchid.ID(nil), env.Parents...), nil
}

// Len reports the number of distinct patch ids known to the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.patches)
}
