// Package records holds the authoritative record tables of a collection.
//
// Records are stored per namespace and become visible to Get and Stats as
// soon as Put returns. Graph nodes are bound to records later, once the
// indexer has linked them; only bound records take part in searches.
package records

import (
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/annex/metadata"
)

// Entry is an immutable view of a stored record.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata metadata.Document
	// Version increases with every write to the store.
	Version uint64
	// Node is the graph node of the record; valid only when Indexed.
	Node    uint32
	Indexed bool
	// Failed is set when linking the record into the graph failed.
	Failed bool
}

// Counts are the per-namespace record counters.
type Counts struct {
	// Vectors is the number of stored records.
	Vectors int
	// Pending is the number of stored records waiting to be bound to a node.
	Pending int
	// Failed is the number of stored records that could not be linked.
	Failed int
}

type namespace struct {
	records map[string]*Entry
	nodes   map[uint32]*Entry
	index   *metadata.InvertedIndex
	pending int
	failed  int
}

func newNamespace() *namespace {
	return &namespace{
		records: make(map[string]*Entry),
		nodes:   make(map[uint32]*Entry),
		index:   metadata.NewInvertedIndex(),
	}
}

// Store is the record table of one collection. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	version    uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{namespaces: make(map[string]*namespace)}
}

// Put stores a record, replacing any record with the same id, and returns
// the stored entry. If the replaced record was bound to a node, that node is
// returned with replaced set so the caller can tombstone it.
func (s *Store) Put(ns, id string, vec []float32, doc metadata.Document) (stored Entry, replacedNode uint32, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		n = newNamespace()
		s.namespaces[ns] = n
	}

	if old, ok := n.records[id]; ok {
		replacedNode, replaced = n.unlinkLocked(old)
	}

	s.version++
	e := &Entry{
		ID:       id,
		Vector:   slices.Clone(vec),
		Metadata: doc.Clone(),
		Version:  s.version,
	}
	n.records[id] = e
	n.pending++
	return *e, replacedNode, replaced
}

// unlinkLocked removes e from the namespace tables.
func (n *namespace) unlinkLocked(e *Entry) (node uint32, bound bool) {
	delete(n.records, e.ID)
	if !e.Indexed {
		n.unpendLocked(e)
		return 0, false
	}
	delete(n.nodes, e.Node)
	n.index.Remove(e.Node, e.Metadata)
	return e.Node, true
}

// Bind attaches node to the record (ns, id) if it still has the given
// version. It reports false when the record was replaced or deleted in the
// meantime; the caller then owns the orphaned node.
func (s *Store) Bind(ns, id string, version uint64, node uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return false
	}
	e, ok := n.records[id]
	if !ok || e.Version != version || e.Indexed {
		return false
	}

	n.unpendLocked(e)
	e.Node = node
	e.Indexed = true
	n.nodes[node] = e
	n.index.Add(node, e.Metadata)
	return true
}

// unpendLocked removes the unbound entry e from the pending or failed count.
func (n *namespace) unpendLocked(e *Entry) {
	if e.Failed {
		e.Failed = false
		n.failed--
		return
	}
	n.pending--
}

// Fail marks the unbound record (ns, id) as failed if it still has the
// given version. Failed records stay stored and fetchable but are no longer
// counted as pending.
func (s *Store) Fail(ns, id string, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return false
	}
	e, ok := n.records[id]
	if !ok || e.Version != version || e.Indexed || e.Failed {
		return false
	}
	e.Failed = true
	n.pending--
	n.failed++
	return true
}

// Delete removes the given ids from ns and returns the nodes that must be
// tombstoned. Unknown ids are ignored.
func (s *Store) Delete(ns string, ids []string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	var nodes []uint32
	for _, id := range ids {
		e, ok := n.records[id]
		if !ok {
			continue
		}
		if node, bound := n.unlinkLocked(e); bound {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// DropNamespace removes ns and everything stored in it.
func (s *Store) DropNamespace(ns string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.namespaces[ns]
	delete(s.namespaces, ns)
	return ok
}

// Get returns the record stored under id.
func (s *Store) Get(ns, id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return Entry{}, false
	}
	e, ok := n.records[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve returns the record bound to node.
func (s *Store) Resolve(ns string, node uint32) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return Entry{}, false
	}
	e, ok := n.nodes[node]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Candidates returns the nodes whose records satisfy the indexable clauses
// of f. See metadata.InvertedIndex.Candidates.
func (s *Store) Candidates(ns string, f *metadata.Filter) (*roaring.Bitmap, bool) {
	s.mu.RLock()
	n, ok := s.namespaces[ns]
	s.mu.RUnlock()
	if !ok {
		return roaring.New(), true
	}
	return n.index.Candidates(f)
}

// Counts returns the counters of ns. Unknown namespaces report zero.
func (s *Store) Counts(ns string) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return Counts{}
	}
	return Counts{Vectors: len(n.records), Pending: n.pending, Failed: n.failed}
}

// Namespaces returns the namespace names in sorted order.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries iterates over a point-in-time copy of the records in ns, ordered
// by id.
func (s *Store) Entries(ns string) iter.Seq[Entry] {
	s.mu.RLock()
	var entries []Entry
	if n, ok := s.namespaces[ns]; ok {
		entries = make([]Entry, 0, len(n.records))
		for _, e := range n.records {
			entries = append(entries, *e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return slices.Values(entries)
}

// Restore inserts an entry verbatim, keeping its version and node binding.
// It is used when loading snapshots into an empty store.
func (s *Store) Restore(ns string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		n = newNamespace()
		s.namespaces[ns] = n
	}
	if old, ok := n.records[e.ID]; ok {
		n.unlinkLocked(old)
	}

	cp := e
	cp.Failed = false
	cp.Metadata = e.Metadata.Clone()
	n.records[e.ID] = &cp
	if cp.Indexed {
		n.nodes[cp.Node] = &cp
		n.index.Add(cp.Node, cp.Metadata)
	} else {
		n.pending++
	}
	s.version = max(s.version, e.Version)
}

// View is a read view of one namespace.
type View struct {
	s  *Store
	ns string
}

// Namespace returns a read view of ns. The namespace need not exist.
func (s *Store) Namespace(ns string) View { return View{s: s, ns: ns} }

// Resolve returns the record bound to node.
func (v View) Resolve(node uint32) (Entry, bool) { return v.s.Resolve(v.ns, node) }

// Candidates returns the candidate nodes for f.
func (v View) Candidates(f *metadata.Filter) (*roaring.Bitmap, bool) {
	return v.s.Candidates(v.ns, f)
}
