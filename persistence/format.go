package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/annex/codec"
)

const (
	// Magic identifies annex snapshot files.
	Magic = "ANXS"
	// Version is the current file format version.
	Version uint16 = 1

	// MaxPayloadSize bounds the decoded payload of a snapshot.
	MaxPayloadSize = 1 << 36

	fixedHeaderSize = 4 + 2 + 1 + 1
	lengthsSize     = 8 + 8 + 4
)

var (
	// ErrInvalidMagic is returned for input that is not a snapshot.
	ErrInvalidMagic = errors.New("persistence: invalid magic number")
	// ErrInvalidVersion is returned for snapshots of an unsupported format version.
	ErrInvalidVersion = errors.New("persistence: unsupported version")
	// ErrUnknownCodec is returned when the snapshot codec is not available.
	ErrUnknownCodec = errors.New("persistence: unknown codec")
	// ErrCorrupt is returned for damaged snapshots.
	ErrCorrupt = errors.New("persistence: corrupt snapshot")
)

// EncodeOptions configures snapshot encoding.
type EncodeOptions struct {
	// Codec serializes the snapshot. Defaults to codec.Default.
	Codec codec.Codec
	// Compression is applied to the encoded snapshot.
	Compression Compression
}

// Header describes an encoded snapshot.
type Header struct {
	Version     uint16
	Compression Compression
	Codec       string
	RawSize     uint64
	PayloadSize uint64
	Checksum    uint32
}

// Encode writes snap to w.
func Encode(w io.Writer, snap *Snapshot, opts EncodeOptions) (*Header, error) {
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}
	if len(c.Name()) > 255 {
		return nil, fmt.Errorf("persistence: codec name %q too long", c.Name())
	}

	raw, err := c.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode snapshot: %w", err)
	}

	payload, applied, err := compress(raw, opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("persistence: compress snapshot: %w", err)
	}

	h := &Header{
		Version:     Version,
		Compression: applied,
		Codec:       c.Name(),
		RawSize:     uint64(len(raw)),
		PayloadSize: uint64(len(payload)),
		Checksum:    Checksum(payload),
	}

	buf := make([]byte, 0, fixedHeaderSize+len(h.Codec)+lengthsSize)
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = append(buf, byte(h.Compression), byte(len(h.Codec)))
	buf = append(buf, h.Codec...)
	buf = binary.LittleEndian.AppendUint64(buf, h.RawSize)
	buf = binary.LittleEndian.AppendUint64(buf, h.PayloadSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Checksum)

	if _, err := w.Write(buf); err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	return h, nil
}

// Marshal encodes snap into a byte slice.
func Marshal(snap *Snapshot, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, snap, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadHeader reads and validates a snapshot header.
func ReadHeader(r io.Reader) (*Header, error) {
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, headerError(err)
	}
	if string(fixed[:4]) != Magic {
		return nil, ErrInvalidMagic
	}

	h := &Header{
		Version:     binary.LittleEndian.Uint16(fixed[4:]),
		Compression: Compression(fixed[6]),
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}

	rest := make([]byte, int(fixed[7])+lengthsSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, headerError(err)
	}
	n := int(fixed[7])
	h.Codec = string(rest[:n])
	h.RawSize = binary.LittleEndian.Uint64(rest[n:])
	h.PayloadSize = binary.LittleEndian.Uint64(rest[n+8:])
	h.Checksum = binary.LittleEndian.Uint32(rest[n+16:])

	if h.RawSize > MaxPayloadSize || h.PayloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrCorrupt, max(h.RawSize, h.PayloadSize))
	}
	return h, nil
}

func headerError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	return err
}

// Decode reads a snapshot from r, verifying its checksum.
func Decode(r io.Reader) (*Snapshot, *Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}

	c, ok := codec.ByName(h.Codec)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCodec, h.Codec)
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, fmt.Errorf("%w: truncated payload", ErrCorrupt)
		}
		return nil, nil, err
	}
	if sum := Checksum(payload); sum != h.Checksum {
		return nil, nil, &ChecksumMismatchError{Expected: h.Checksum, Actual: sum}
	}

	raw, err := decompress(payload, h.Compression, h.RawSize)
	if err != nil {
		return nil, nil, err
	}

	var snap Snapshot
	if err := c.Unmarshal(raw, &snap); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &snap, h, nil
}

// Unmarshal decodes a snapshot from data.
func Unmarshal(data []byte) (*Snapshot, error) {
	snap, _, err := Decode(bytes.NewReader(data))
	return snap, err
}
