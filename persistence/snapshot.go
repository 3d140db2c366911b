package persistence

import (
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/metadata"
)

// Config is the persisted configuration of a collection.
type Config struct {
	Name               string          `msgpack:"name" json:"name"`
	Dimension          uint32          `msgpack:"dimension" json:"dimension"`
	Metric             string          `msgpack:"metric" json:"metric"`
	M                  int             `msgpack:"m" json:"m"`
	EFConstruction     int             `msgpack:"ef_construction" json:"ef_construction"`
	MinEF              int             `msgpack:"min_ef" json:"min_ef"`
	EFMultiplier       int             `msgpack:"ef_multiplier" json:"ef_multiplier"`
	OverfetchFactor    int             `msgpack:"overfetch_factor" json:"overfetch_factor"`
	MaxCandidates      int             `msgpack:"max_candidates" json:"max_candidates"`
	PrefilterThreshold int             `msgpack:"prefilter_threshold" json:"prefilter_threshold"`
	RetentionNanos     int64           `msgpack:"retention_nanos" json:"retention_nanos"`
	Schema             metadata.Schema `msgpack:"schema,omitempty" json:"schema,omitempty"`
}

// Record is a persisted record with its graph binding.
type Record struct {
	ID       string            `msgpack:"id" json:"id"`
	Vector   []float32         `msgpack:"vector" json:"vector"`
	Metadata metadata.Document `msgpack:"metadata,omitempty" json:"metadata,omitempty"`
	Version  uint64            `msgpack:"version" json:"version"`
	Node     uint32            `msgpack:"node" json:"node"`
	Indexed  bool              `msgpack:"indexed" json:"indexed"`
}

// Namespace holds the records and graph of one namespace.
type Namespace struct {
	Name    string     `msgpack:"name" json:"name"`
	Records []Record   `msgpack:"records" json:"records"`
	Graph   *hnsw.Data `msgpack:"graph,omitempty" json:"graph,omitempty"`
}

// Snapshot is a complete copy of a collection.
type Snapshot struct {
	Config     Config      `msgpack:"config" json:"config"`
	Namespaces []Namespace `msgpack:"namespaces" json:"namespaces"`
	// CreatedAt is the unix time in nanoseconds the snapshot was taken.
	CreatedAt int64 `msgpack:"created_at" json:"created_at"`
}

// Records returns the number of records across all namespaces.
func (s *Snapshot) Records() int {
	n := 0
	for _, ns := range s.Namespaces {
		n += len(ns.Records)
	}
	return n
}
