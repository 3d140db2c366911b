package metadata

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// InvertedIndex maps field values to the set of ids carrying them.
//
// Structure: field -> valueKey -> bitmap of ids. List values are indexed
// once per element so that $eq and $in on list fields resolve directly.
// Safe for concurrent use.
type InvertedIndex struct {
	mu       sync.RWMutex
	inverted map[string]map[string]*roaring.Bitmap
	all      *roaring.Bitmap
}

// NewInvertedIndex creates an empty index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		inverted: make(map[string]map[string]*roaring.Bitmap),
		all:      roaring.New(),
	}
}

func indexKeys(v Value) []string {
	if v.Kind == KindArray {
		keys := make([]string, 0, len(v.A))
		for _, e := range v.A {
			keys = append(keys, e.Key())
		}
		return keys
	}
	return []string{v.Key()}
}

// Add indexes doc under id.
func (ix *InvertedIndex) Add(id uint32, doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.all.Add(id)
	for field, v := range doc {
		values, ok := ix.inverted[field]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			ix.inverted[field] = values
		}
		for _, key := range indexKeys(v) {
			bm, ok := values[key]
			if !ok {
				bm = roaring.New()
				values[key] = bm
			}
			bm.Add(id)
		}
	}
}

// Remove drops id from the postings of doc. doc must be the document that
// was passed to Add.
func (ix *InvertedIndex) Remove(id uint32, doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.all.Remove(id)
	for field, v := range doc {
		values, ok := ix.inverted[field]
		if !ok {
			continue
		}
		for _, key := range indexKeys(v) {
			bm, ok := values[key]
			if !ok {
				continue
			}
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(values, key)
			}
		}
		if len(values) == 0 {
			delete(ix.inverted, field)
		}
	}
}

// Len returns the number of indexed ids.
func (ix *InvertedIndex) Len() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.all.GetCardinality()
}

// Candidates returns the ids that satisfy every top-level $eq and $in clause
// of f. The result is a superset of the ids matching f; callers still
// evaluate f on each candidate. ok is false when f has no such clause.
func (ix *InvertedIndex) Candidates(f *Filter) (bm *roaring.Bitmap, ok bool) {
	preds := f.Conjuncts()
	if len(preds) == 0 {
		return nil, false
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var parts []*roaring.Bitmap
	for _, p := range preds {
		switch p.Operator {
		case OpEqual:
			parts = append(parts, ix.postingLocked(p.Field, p.Value))
		case OpIn:
			ors := make([]*roaring.Bitmap, 0, len(p.Values))
			for _, v := range p.Values {
				ors = append(ors, ix.postingLocked(p.Field, v))
			}
			parts = append(parts, roaring.FastOr(ors...))
		}
	}

	switch len(parts) {
	case 0:
		return nil, false
	case 1:
		return parts[0].Clone(), true
	default:
		return roaring.FastAnd(parts...), true
	}
}

func (ix *InvertedIndex) postingLocked(field string, v Value) *roaring.Bitmap {
	if bm, ok := ix.inverted[field][v.Key()]; ok {
		return bm
	}
	return roaring.New()
}
