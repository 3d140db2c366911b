package hnsw

import (
	"errors"
	"fmt"
	"slices"
)

// NodeData is the serializable form of a node.
type NodeData struct {
	ID        uint32     `msgpack:"id" json:"id"`
	Level     int        `msgpack:"level" json:"level"`
	Vector    []float32  `msgpack:"vector" json:"vector"`
	Deleted   bool       `msgpack:"deleted,omitempty" json:"deleted,omitempty"`
	DeletedAt int64      `msgpack:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	Neighbors [][]uint32 `msgpack:"neighbors" json:"neighbors"`
}

// Data is the serializable form of a graph.
type Data struct {
	// Slots is the number of ids ever assigned, including reclaimed ones.
	Slots    uint32     `msgpack:"slots" json:"slots"`
	Entry    uint32     `msgpack:"entry" json:"entry"`
	MaxLevel int        `msgpack:"max_level" json:"max_level"`
	HasEntry bool       `msgpack:"has_entry" json:"has_entry"`
	Nodes    []NodeData `msgpack:"nodes" json:"nodes"`
}

// ErrNotEmpty is returned when importing into a graph that already has nodes.
var ErrNotEmpty = errors.New("hnsw: graph is not empty")

// Export returns a consistent copy of the graph.
func (g *Graph) Export() *Data {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	s := g.snap.Load()
	d := &Data{
		Slots:    uint32(len(s.nodes)),
		Entry:    s.entry,
		MaxLevel: s.maxLevel,
		HasEntry: s.hasEntry,
	}
	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		nd := NodeData{
			ID:        n.id,
			Level:     n.level,
			Vector:    slices.Clone(n.vector),
			Deleted:   n.isDeleted(),
			DeletedAt: n.deletedAt.Load(),
			Neighbors: make([][]uint32, n.level+1),
		}
		for l := range nd.Neighbors {
			nd.Neighbors[l] = slices.Clone(n.neighbors(l))
		}
		d.Nodes = append(d.Nodes, nd)
	}
	return d
}

// Import loads exported data into an empty graph. The result is validated
// before it becomes visible.
func (g *Graph) Import(d *Data) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if len(g.snap.Load().nodes) > 0 {
		return ErrNotEmpty
	}

	s := &snapshot{
		nodes:    make([]*node, d.Slots),
		entry:    d.Entry,
		maxLevel: d.MaxLevel,
		hasEntry: d.HasEntry,
	}

	var live, dead int64
	for _, nd := range d.Nodes {
		if nd.ID >= d.Slots {
			return corruption("node id %d outside %d slots", nd.ID, d.Slots)
		}
		if s.nodes[nd.ID] != nil {
			return corruption("duplicate node id %d", nd.ID)
		}
		if nd.Level < 0 || len(nd.Neighbors) != nd.Level+1 {
			return corruption("node %d has %d neighbor layers for level %d", nd.ID, len(nd.Neighbors), nd.Level)
		}
		if len(nd.Vector) != g.opts.Dimension {
			return fmt.Errorf("%w: node %d", &ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: len(nd.Vector)}, nd.ID)
		}

		n := newNode(nd.ID, nd.Level, slices.Clone(nd.Vector))
		for l, list := range nd.Neighbors {
			n.setNeighbors(l, slices.Clone(list))
		}
		if nd.Deleted {
			n.deleted.Store(true)
			n.deletedAt.Store(nd.DeletedAt)
			dead++
		} else {
			live++
		}
		s.nodes[nd.ID] = n
	}

	if err := g.validateSnapshot(s); err != nil {
		return err
	}

	g.snap.Store(s)
	g.live.Store(live)
	g.tombstones.Store(dead)
	return nil
}
