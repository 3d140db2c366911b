package hnsw

import (
	"context"
	"fmt"
	"iter"
	"math"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/queue"
	"github.com/hupe1980/annex/internal/visited"
)

// Graph is a layered proximity graph over float32 vectors.
type Graph struct {
	opts   Options
	mmax   int
	mmax0  int
	ml     float64
	distFn distance.Func

	writeMu sync.Mutex
	rng     *rand.Rand

	snap       atomic.Pointer[snapshot]
	live       atomic.Int64
	tombstones atomic.Int64

	visitedPool sync.Pool
	now         func() time.Time
}

// New creates a new graph.
func New(optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	distFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	src := opts.Rand
	if src == nil {
		seed := time.Now().UnixNano()
		if opts.Seed != nil {
			seed = *opts.Seed
		}
		src = rand.NewSource(seed)
	}

	g := &Graph{
		opts:   opts,
		mmax:   opts.M,
		mmax0:  opts.M * mmax0Multiplier,
		ml:     1 / math.Log(float64(opts.M)),
		distFn: distFn,
		rng:    rand.New(src),
		now:    time.Now,
	}
	g.visitedPool.New = func() any { return visited.New(1024) }
	g.snap.Store(&snapshot{})
	return g, nil
}

// Options returns the configuration of the graph.
func (g *Graph) Options() Options { return g.opts }

// Len returns the number of nodes in the graph, including tombstones.
func (g *Graph) Len() int {
	return int(g.live.Load() + g.tombstones.Load())
}

// Live returns the number of nodes that are not tombstoned.
func (g *Graph) Live() int { return int(g.live.Load()) }

// Tombstones returns the number of tombstoned nodes not yet reclaimed.
func (g *Graph) Tombstones() int { return int(g.tombstones.Load()) }

func (g *Graph) maxConns(layer int) int {
	if layer == 0 {
		return g.mmax0
	}
	return g.mmax
}

func (g *Graph) randomLevel() int {
	u := 1 - g.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(u) * g.ml))
	return min(level, maxLevelCap)
}

func (g *Graph) prepare(vec []float32) ([]float32, error) {
	if len(vec) != g.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: len(vec)}
	}
	if g.opts.Metric == distance.Cosine {
		return distance.NormalizeL2Copy(vec)
	}
	return slices.Clone(vec), nil
}

func (g *Graph) getVisited() *visited.VisitedSet {
	return g.visitedPool.Get().(*visited.VisitedSet)
}

func (g *Graph) putVisited(v *visited.VisitedSet) {
	v.Reset()
	g.visitedPool.Put(v)
}

func corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndexCorruption, fmt.Sprintf(format, args...))
}

// Insert links a new node for vec into the graph and returns its id.
// Ids are assigned sequentially and never reused.
func (g *Graph) Insert(ctx context.Context, vec []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := g.prepare(vec)
	if err != nil {
		return 0, err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	s := g.snap.Load()
	id := uint32(len(s.nodes))
	level := g.randomLevel()
	n := newNode(id, level, v)

	if !s.hasEntry {
		for l := 0; l <= level; l++ {
			n.setNeighbors(l, nil)
		}
		g.snap.Store(&snapshot{
			nodes:    append(s.nodes, n),
			entry:    id,
			maxLevel: level,
			hasEntry: true,
		})
		g.live.Add(1)
		return id, nil
	}

	entry, ok := s.get(s.entry)
	if !ok {
		return 0, corruption("entry point %d missing", s.entry)
	}
	ep := queue.Item{Node: s.entry, Distance: g.distFn(v, entry.vector)}
	for l := s.maxLevel; l > level; l-- {
		ep, err = g.greedy(s, v, ep, l)
		if err != nil {
			return 0, err
		}
	}

	links := make([][]queue.Item, level+1)
	for l := min(level, s.maxLevel); l >= 0; l-- {
		cands, _, err := g.searchLayer(nil, s, v, []queue.Item{ep}, g.opts.EFConstruction, l, liveNode)
		if err != nil {
			return 0, err
		}
		if len(cands) == 0 {
			// Only tombstones are reachable; link through them.
			cands, _, err = g.searchLayer(nil, s, v, []queue.Item{ep}, g.opts.EFConstruction, l, anyNode)
			if err != nil {
				return 0, err
			}
		}
		selected := g.selectNeighbors(s, v, cands, g.maxConns(l))
		links[l] = selected
		n.setNeighbors(l, itemIDs(selected))
		if len(cands) > 0 {
			ep = cands[0]
		}
	}
	for l := s.maxLevel + 1; l <= level; l++ {
		n.setNeighbors(l, nil)
	}

	next := &snapshot{
		nodes:    append(s.nodes, n),
		entry:    s.entry,
		maxLevel: s.maxLevel,
		hasEntry: true,
	}
	if level > s.maxLevel {
		next.entry = id
		next.maxLevel = level
	}
	g.snap.Store(next)
	g.live.Add(1)

	for l, selected := range links {
		for _, nb := range selected {
			g.addConnection(next, nb.Node, id, l)
		}
	}

	return id, nil
}

// addConnection appends target to the layer list of src, pruning the list
// back to its capacity when full.
func (g *Graph) addConnection(s *snapshot, src, target uint32, layer int) {
	srcNode, ok := s.get(src)
	if !ok {
		return
	}
	current := srcNode.neighbors(layer)
	if slices.Contains(current, target) {
		return
	}

	limit := g.maxConns(layer)
	if len(current) < limit {
		next := make([]uint32, len(current), len(current)+1)
		copy(next, current)
		srcNode.setNeighbors(layer, append(next, target))
		return
	}

	cands := make([]queue.Item, 0, len(current)+1)
	for _, id := range append(slices.Clone(current), target) {
		nb, ok := s.get(id)
		if !ok {
			continue
		}
		cands = append(cands, queue.Item{Node: id, Distance: g.distFn(srcNode.vector, nb.vector)})
	}
	sortItems(cands)
	srcNode.setNeighbors(layer, itemIDs(g.selectNeighbors(s, srcNode.vector, cands, limit)))
}

// selectNeighbors picks up to m neighbors from cands (sorted by ascending
// distance to base). With the heuristic enabled, a candidate is kept only if
// no already selected neighbor is closer to it than base; remaining slots
// are filled with the closest discarded candidates.
func (g *Graph) selectNeighbors(s *snapshot, base []float32, cands []queue.Item, m int) []queue.Item {
	if len(cands) <= m || !g.opts.Heuristic {
		return slices.Clone(cands[:min(m, len(cands))])
	}

	selected := make([]queue.Item, 0, m)
	var discarded []queue.Item
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		cn, ok := s.get(c.Node)
		if !ok {
			continue
		}
		good := true
		for _, sel := range selected {
			sn, _ := s.get(sel.Node)
			if g.distFn(cn.vector, sn.vector) < c.Distance {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for _, d := range discarded {
		if len(selected) >= m {
			break
		}
		selected = append(selected, d)
	}
	return selected
}

// greedy walks layer towards q until no neighbor is closer.
func (g *Graph) greedy(s *snapshot, q []float32, ep queue.Item, layer int) (queue.Item, error) {
	for changed := true; changed; {
		changed = false
		cur, _ := s.get(ep.Node)
		for _, id := range cur.neighbors(layer) {
			if int(id) >= len(s.nodes) {
				continue
			}
			nb := s.nodes[id]
			if nb == nil {
				return ep, corruption("node %d references reclaimed node %d on layer %d", ep.Node, id, layer)
			}
			if d := g.distFn(q, nb.vector); d < ep.Distance {
				ep = queue.Item{Node: id, Distance: d}
				changed = true
			}
		}
	}
	return ep, nil
}

type acceptFunc func(n *node) bool

func liveNode(n *node) bool { return !n.isDeleted() }

func anyNode(*node) bool { return true }

// searchLayer runs a beam search of width ef on one layer and returns the
// accepted nodes in ascending distance order. Rejected nodes are still
// traversed. When done fires, the search stops and partial is true.
func (g *Graph) searchLayer(done <-chan struct{}, s *snapshot, q []float32, entries []queue.Item, ef, layer int, accept acceptFunc) (res []queue.Item, partial bool, err error) {
	vs := g.getVisited()
	defer g.putVisited(vs)

	candidates := queue.NewMinFrom(entries)
	results := queue.NewMax(ef + 1)

	for _, e := range entries {
		vs.Visit(e.Node)
		if n, ok := s.get(e.Node); ok && accept(n) {
			results.PushItem(e)
		}
	}

	for candidates.Len() > 0 {
		if done != nil {
			select {
			case <-done:
				partial = true
			default:
			}
			if partial {
				break
			}
		}

		curr, _ := candidates.PopItem()
		if results.Len() >= ef {
			if worst, _ := results.TopItem(); curr.Distance > worst.Distance {
				break
			}
		}

		cur, _ := s.get(curr.Node)
		for _, id := range cur.neighbors(layer) {
			if int(id) >= len(s.nodes) {
				continue
			}
			if !vs.Visit(id) {
				continue
			}
			nb := s.nodes[id]
			if nb == nil {
				return nil, false, corruption("node %d references reclaimed node %d on layer %d", curr.Node, id, layer)
			}

			d := g.distFn(q, nb.vector)
			worst, hasWorst := results.TopItem()
			if results.Len() < ef || !hasWorst || d < worst.Distance {
				candidates.PushItem(queue.Item{Node: id, Distance: d})
				if accept(nb) {
					results.PushItem(queue.Item{Node: id, Distance: d})
					if results.Len() > ef {
						results.PopItem()
					}
				}
			}
		}
	}

	res = make([]queue.Item, results.Len())
	for i := len(res) - 1; i >= 0; i-- {
		res[i], _ = results.PopItem()
	}
	return res, partial, nil
}

// Search returns up to k live nodes closest to q using a layer-0 beam of
// width ef. accept, when non-nil, further restricts which nodes may be
// returned; rejected nodes are still traversed.
//
// An empty graph yields an empty result. If ctx is done before the beam
// search converges, the best nodes found so far are returned with
// Result.Partial set.
func (g *Graph) Search(ctx context.Context, q []float32, k, ef int, accept func(id uint32) bool) (Result, error) {
	if k <= 0 {
		return Result{}, ErrInvalidK
	}
	if ef < k {
		return Result{}, ErrInvalidEF
	}
	v, err := g.prepare(q)
	if err != nil {
		return Result{}, err
	}

	s := g.snap.Load()
	if !s.hasEntry || g.live.Load() == 0 {
		return Result{}, nil
	}
	// Neither the result count nor the beam can exceed the node table.
	k = min(k, len(s.nodes))
	ef = min(ef, len(s.nodes))

	entry, ok := s.get(s.entry)
	if !ok {
		return Result{}, corruption("entry point %d missing", s.entry)
	}
	ep := queue.Item{Node: s.entry, Distance: g.distFn(v, entry.vector)}
	for l := s.maxLevel; l > 0; l-- {
		if ep, err = g.greedy(s, v, ep, l); err != nil {
			return Result{}, err
		}
	}

	acceptFn := liveNode
	if accept != nil {
		acceptFn = func(n *node) bool { return !n.isDeleted() && accept(n.id) }
	}

	considered := 0
	items, partial, err := g.searchLayer(ctx.Done(), s, v, []queue.Item{ep}, ef, 0, func(n *node) bool {
		considered++
		return acceptFn(n)
	})
	if err != nil {
		return Result{}, err
	}

	if len(items) > k {
		items = items[:k]
	}
	out := Result{Matches: make([]SearchResult, len(items)), Partial: partial, Visited: considered}
	for i, it := range items {
		out.Matches[i] = SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return out, nil
}

// BruteSearch scores exactly the given candidate ids and returns the k
// closest live ones.
func (g *Graph) BruteSearch(ctx context.Context, q []float32, k int, ids iter.Seq[uint32]) (Result, error) {
	if k <= 0 {
		return Result{}, ErrInvalidK
	}
	v, err := g.prepare(q)
	if err != nil {
		return Result{}, err
	}

	s := g.snap.Load()
	k = min(k, len(s.nodes))
	if k == 0 {
		return Result{}, nil
	}
	done := ctx.Done()
	top := queue.NewMax(k + 1)
	partial := false
	scanned := 0

	ids(func(id uint32) bool {
		if scanned%64 == 0 && done != nil {
			select {
			case <-done:
				partial = true
				return false
			default:
			}
		}
		scanned++
		n, ok := s.get(id)
		if !ok || n.isDeleted() {
			return true
		}
		top.PushItem(queue.Item{Node: id, Distance: g.distFn(v, n.vector)})
		if top.Len() > k {
			top.PopItem()
		}
		return true
	})

	out := Result{Matches: make([]SearchResult, top.Len()), Partial: partial, Visited: scanned}
	for i := len(out.Matches) - 1; i >= 0; i-- {
		it, _ := top.PopItem()
		out.Matches[i] = SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return out, nil
}

// Delete tombstones the node. Tombstoned nodes stay traversable but are never
// returned by Search. It reports whether the node was live.
func (g *Graph) Delete(id uint32) bool {
	n, ok := g.snap.Load().get(id)
	if !ok {
		return false
	}
	if !n.deleted.CompareAndSwap(false, true) {
		return false
	}
	n.deletedAt.Store(g.now().UnixNano())
	g.live.Add(-1)
	g.tombstones.Add(1)
	return true
}

// IsDeleted reports whether id is tombstoned or absent.
func (g *Graph) IsDeleted(id uint32) bool {
	n, ok := g.snap.Load().get(id)
	return !ok || n.isDeleted()
}

// Vector returns the stored (normalized, for cosine) vector of id.
func (g *Graph) Vector(id uint32) ([]float32, bool) {
	n, ok := g.snap.Load().get(id)
	if !ok {
		return nil, false
	}
	return n.vector, true
}

// Stats returns statistics about the graph.
func (g *Graph) Stats() Stats {
	s := g.snap.Load()
	st := Stats{MaxLevel: s.maxLevel, LevelCounts: make([]int, s.maxLevel+1)}
	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		st.Nodes++
		if n.isDeleted() {
			st.Tombstones++
		} else {
			st.Live++
		}
		if n.level < len(st.LevelCounts) {
			st.LevelCounts[n.level]++
		}
	}
	return st
}

func itemIDs(items []queue.Item) []uint32 {
	ids := make([]uint32, len(items))
	for i, it := range items {
		ids[i] = it.Node
	}
	return ids
}

func sortItems(items []queue.Item) {
	slices.SortFunc(items, func(a, b queue.Item) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.Node < b.Node:
			return -1
		case a.Node > b.Node:
			return 1
		default:
			return 0
		}
	})
}
