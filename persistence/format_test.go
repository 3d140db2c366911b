package persistence

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annex/codec"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/metadata"
)

func testSnapshot(name string, records int) *Snapshot {
	snap := &Snapshot{
		Config: Config{
			Name:               name,
			Dimension:          4,
			Metric:             "cosine",
			M:                  16,
			EFConstruction:     200,
			MinEF:              64,
			EFMultiplier:       4,
			OverfetchFactor:    10,
			MaxCandidates:      4096,
			PrefilterThreshold: 2048,
			RetentionNanos:     int64(60e9),
			Schema:             metadata.Schema{"genre": metadata.FieldTypeString},
		},
		CreatedAt: 1700000000000000000,
	}

	ns := Namespace{Name: ""}
	graph := &hnsw.Data{Slots: uint32(records), HasEntry: records > 0}
	for i := range records {
		vec := []float32{float32(i), 1, 0.5, -0.25}
		ns.Records = append(ns.Records, Record{
			ID:     string(rune('a' + i%26)),
			Vector: vec,
			Metadata: metadata.Document{
				"genre": metadata.String("comedy"),
				"year":  metadata.Int(int64(2000 + i)),
			},
			Version: uint64(i + 1),
			Node:    uint32(i),
			Indexed: true,
		})
		graph.Nodes = append(graph.Nodes, hnsw.NodeData{
			ID:        uint32(i),
			Vector:    vec,
			Neighbors: [][]uint32{{}},
		})
	}
	ns.Graph = graph
	snap.Namespaces = []Namespace{ns, {Name: "empty"}}
	return snap
}

func TestEncodeDecode_Codecs(t *testing.T) {
	for _, c := range []codec.Codec{codec.Msgpack{}, codec.JSON{}, codec.GoJSON{}} {
		for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
			t.Run(c.Name()+"/"+comp.String(), func(t *testing.T) {
				snap := testSnapshot("movies", 200)

				var buf bytes.Buffer
				h, err := Encode(&buf, snap, EncodeOptions{Codec: c, Compression: comp})
				require.NoError(t, err)
				assert.Equal(t, c.Name(), h.Codec)

				got, gh, err := Decode(&buf)
				require.NoError(t, err)
				assert.Equal(t, *h, *gh)
				assert.Equal(t, snap.Config, got.Config)
				assert.Equal(t, snap.CreatedAt, got.CreatedAt)
				require.Len(t, got.Namespaces, 2)
				assert.Equal(t, snap.Records(), got.Records())
				assert.Equal(t, snap.Namespaces[0].Records[7], got.Namespaces[0].Records[7])
				assert.Len(t, got.Namespaces[0].Graph.Nodes, 200)
			})
		}
	}
}

func TestEncode_CompressionShrinks(t *testing.T) {
	snap := testSnapshot("movies", 500)

	raw, err := Marshal(snap, EncodeOptions{Compression: CompressionNone})
	require.NoError(t, err)

	for _, comp := range []Compression{CompressionLZ4, CompressionZSTD} {
		var buf bytes.Buffer
		h, err := Encode(&buf, snap, EncodeOptions{Compression: comp})
		require.NoError(t, err)
		assert.Equal(t, comp, h.Compression)
		assert.Less(t, buf.Len(), len(raw), comp.String())
	}
}

func TestEncode_IncompressibleFallsBack(t *testing.T) {
	data, applied, err := compress([]byte{0x01, 0x02}, CompressionZSTD)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, applied)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}

func TestDecode_Errors(t *testing.T) {
	good, err := Marshal(testSnapshot("movies", 10), EncodeOptions{Compression: CompressionZSTD})
	require.NoError(t, err)

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(good)
		copy(bad, "NOPE")
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("version", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[4] = 99
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("codec", func(t *testing.T) {
		bad := bytes.Clone(good)
		n := int(bad[7])
		copy(bad[8:8+n], bytes.Repeat([]byte{'x'}, n))
		_, err := Unmarshal(bad)
		assert.ErrorIs(t, err, ErrUnknownCodec)
	})

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[len(bad)-1] ^= 0xff
		_, err := Unmarshal(bad)
		var cm *ChecksumMismatchError
		assert.True(t, errors.As(err, &cm))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 3, 10, len(good) - 1} {
			_, err := Unmarshal(good[:n])
			assert.ErrorIs(t, err, ErrCorrupt, "length %d", n)
		}
	})
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
