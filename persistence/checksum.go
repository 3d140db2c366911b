package persistence

import (
	"fmt"
	"hash/crc32"
)

// Snapshots are checksummed with CRC32C (Castagnoli), which is hardware
// accelerated on amd64 and arm64. It detects accidental corruption only.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32C checksum of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap makes checksum mismatches match ErrCorrupt.
func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }
