package hnsw

import (
	"context"
	"slices"
	"time"

	"github.com/hupe1980/annex/internal/queue"
)

// CompactOptions controls a compaction pass.
type CompactOptions struct {
	// Retention is the minimum age of a tombstone before its node is
	// reclaimed. Younger tombstones stay in the graph as traversal bridges.
	Retention time.Duration

	// Pace, when set, is called before each node is processed. Returning an
	// error aborts the pass.
	Pace func(ctx context.Context) error
}

// Compact reclaims tombstoned nodes older than the retention threshold and
// repairs the neighbor lists that referenced them.
//
// Live nodes whose lists point at reclaimed nodes, or whose live neighbors
// dropped below half the list capacity, are relinked from their surviving
// neighbors, the neighbors of the reclaimed nodes and a fresh beam search.
// The pass checks ctx between nodes; a cancelled pass leaves the graph
// consistent and reclaims nothing.
func (g *Graph) Compact(ctx context.Context, opts CompactOptions) (CompactStats, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	var stats CompactStats
	s := g.snap.Load()
	now := g.now().UnixNano()

	reclaim := make(map[uint32]struct{})
	for _, n := range s.nodes {
		if n == nil || !n.isDeleted() {
			continue
		}
		if now-n.deletedAt.Load() >= int64(opts.Retention) {
			reclaim[n.id] = struct{}{}
		} else {
			stats.Retained++
		}
	}

	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		if _, gone := reclaim[n.id]; gone {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if opts.Pace != nil {
			if err := opts.Pace(ctx); err != nil {
				return stats, err
			}
		}

		for l := 0; l <= n.level; l++ {
			list := n.neighbors(l)
			if !g.needsRepair(s, n, list, l, reclaim) {
				continue
			}
			stats.Relinked++

			if n.isDeleted() {
				n.setNeighbors(l, slices.DeleteFunc(slices.Clone(list), func(id uint32) bool {
					_, gone := reclaim[id]
					return gone
				}))
				continue
			}

			selected, err := g.relink(s, n, list, l, reclaim)
			if err != nil {
				return stats, err
			}
			n.setNeighbors(l, itemIDs(selected))
			for _, nb := range selected {
				if !slices.Contains(list, nb.Node) {
					if x, ok := s.get(nb.Node); ok && !x.isDeleted() {
						g.addConnection(s, nb.Node, n.id, l)
					}
				}
			}
		}
	}

	if len(reclaim) == 0 {
		return stats, nil
	}

	next := &snapshot{
		nodes:    slices.Clone(s.nodes),
		entry:    s.entry,
		maxLevel: s.maxLevel,
		hasEntry: s.hasEntry,
	}
	for id := range reclaim {
		next.nodes[id] = nil
	}
	if _, gone := reclaim[s.entry]; gone && s.hasEntry {
		electEntry(next)
	}

	g.snap.Store(next)
	g.tombstones.Add(-int64(len(reclaim)))
	stats.Reclaimed = len(reclaim)
	return stats, nil
}

func (g *Graph) needsRepair(s *snapshot, n *node, list []uint32, layer int, reclaim map[uint32]struct{}) bool {
	liveCount := 0
	for _, id := range list {
		if _, gone := reclaim[id]; gone {
			return true
		}
		if nb, ok := s.get(id); ok && !nb.isDeleted() {
			liveCount++
		}
	}
	if n.isDeleted() {
		return false
	}
	return liveCount < len(list) && liveCount < g.maxConns(layer)/2
}

// relink computes a fresh neighbor list for a live node.
func (g *Graph) relink(s *snapshot, n *node, list []uint32, layer int, reclaim map[uint32]struct{}) ([]queue.Item, error) {
	seen := map[uint32]struct{}{n.id: {}}
	var live, dead []queue.Item

	add := func(id uint32) {
		if _, ok := seen[id]; ok {
			return
		}
		if _, gone := reclaim[id]; gone {
			return
		}
		nb, ok := s.get(id)
		if !ok || nb.level < layer {
			return
		}
		seen[id] = struct{}{}
		it := queue.Item{Node: id, Distance: g.distFn(n.vector, nb.vector)}
		if nb.isDeleted() {
			dead = append(dead, it)
		} else {
			live = append(live, it)
		}
	}

	for _, id := range list {
		if _, gone := reclaim[id]; gone {
			if r, ok := s.get(id); ok {
				for _, bridged := range r.neighbors(layer) {
					add(bridged)
				}
			}
			continue
		}
		add(id)
	}

	found, _, err := g.searchLayer(nil, s, n.vector, []queue.Item{{Node: n.id}}, g.opts.EFConstruction, layer, func(x *node) bool {
		if x.isDeleted() || x.id == n.id {
			return false
		}
		_, gone := reclaim[x.id]
		return !gone
	})
	if err != nil {
		return nil, err
	}
	for _, f := range found {
		add(f.Node)
	}

	limit := g.maxConns(layer)
	sortItems(live)
	selected := g.selectNeighbors(s, n.vector, live, limit)
	if len(selected) < limit {
		sortItems(dead)
		selected = append(selected, dead[:min(len(dead), limit-len(selected))]...)
	}
	return selected, nil
}

// electEntry picks the highest-level remaining node as the entry point,
// preferring live nodes.
func electEntry(s *snapshot) {
	var best *node
	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		switch {
		case best == nil,
			best.isDeleted() && !n.isDeleted(),
			best.isDeleted() == n.isDeleted() && n.level > best.level:
			best = n
		}
	}
	if best == nil {
		s.hasEntry = false
		s.entry = 0
		s.maxLevel = 0
		return
	}
	s.entry = best.id
	s.maxLevel = best.level
}
