package hnsw

// Validate checks the structural invariants of the graph and returns an
// error wrapping ErrIndexCorruption on the first violation.
func (g *Graph) Validate() error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.validateSnapshot(g.snap.Load())
}

func (g *Graph) validateSnapshot(s *snapshot) error {
	if s.hasEntry {
		entry, ok := s.get(s.entry)
		if !ok {
			return corruption("entry point %d missing", s.entry)
		}
		if entry.level != s.maxLevel {
			return corruption("entry point %d has level %d, graph max level is %d", s.entry, entry.level, s.maxLevel)
		}
	}

	for slot, n := range s.nodes {
		if n == nil {
			continue
		}
		if int(n.id) != slot {
			return corruption("node in slot %d claims id %d", slot, n.id)
		}
		if len(n.vector) != g.opts.Dimension {
			return corruption("node %d has dimension %d, expected %d", n.id, len(n.vector), g.opts.Dimension)
		}
		if n.level < 0 || len(n.conns) != n.level+1 {
			return corruption("node %d has inconsistent level %d", n.id, n.level)
		}
		if !s.hasEntry {
			return corruption("node %d present without an entry point", n.id)
		}
		for l := 0; l <= n.level; l++ {
			list := n.neighbors(l)
			if len(list) > g.maxConns(l) {
				return corruption("node %d has %d neighbors on layer %d, max %d", n.id, len(list), l, g.maxConns(l))
			}
			for _, id := range list {
				if id == n.id {
					return corruption("node %d links to itself on layer %d", n.id, l)
				}
				nb, ok := s.get(id)
				if !ok {
					return corruption("node %d references missing node %d on layer %d", n.id, id, l)
				}
				if nb.level < l {
					return corruption("node %d references node %d on layer %d above its level %d", n.id, id, l, nb.level)
				}
			}
		}
	}
	return nil
}
