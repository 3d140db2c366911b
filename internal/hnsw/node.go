package hnsw

import "sync/atomic"

type node struct {
	id     uint32
	level  int
	vector []float32

	// conns[l] holds the neighbor list for layer l. Lists are immutable once
	// stored; writers replace them wholesale.
	conns []atomic.Pointer[[]uint32]

	deleted   atomic.Bool
	deletedAt atomic.Int64
}

func newNode(id uint32, level int, vec []float32) *node {
	return &node{
		id:     id,
		level:  level,
		vector: vec,
		conns:  make([]atomic.Pointer[[]uint32], level+1),
	}
}

func (n *node) neighbors(layer int) []uint32 {
	if layer >= len(n.conns) {
		return nil
	}
	p := n.conns[layer].Load()
	if p == nil {
		return nil
	}
	return *p
}

func (n *node) setNeighbors(layer int, ids []uint32) {
	n.conns[layer].Store(&ids)
}

func (n *node) isDeleted() bool {
	return n.deleted.Load()
}

// snapshot is an immutable view of the node table. A nil slot is a node
// reclaimed by compaction.
type snapshot struct {
	nodes    []*node
	entry    uint32
	maxLevel int
	hasEntry bool
}

func (s *snapshot) get(id uint32) (*node, bool) {
	if int(id) >= len(s.nodes) {
		return nil, false
	}
	n := s.nodes[id]
	return n, n != nil
}
