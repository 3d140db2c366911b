package annex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/annex/distance"
	"github.com/hupe1980/annex/internal/engine"
	"github.com/hupe1980/annex/internal/hnsw"
	"github.com/hupe1980/annex/internal/search"
	"github.com/hupe1980/annex/metadata"
)

var (
	// ErrCollectionNotFound is returned when a named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrAlreadyExists is returned when creating a collection whose name is taken.
	ErrAlreadyExists = errors.New("collection already exists")

	// ErrInvalidQueryParams is returned for k == 0 or an explicit ef below k.
	ErrInvalidQueryParams = errors.New("invalid query parameters")

	// ErrIndexCorruption is returned when a graph invariant is violated.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrUnknownToken is returned for pending tokens that were never issued
	// by the collection or have been forgotten.
	ErrUnknownToken = errors.New("unknown pending token")

	// ErrClosed is returned when using a closed engine or dropped collection.
	ErrClosed = errors.New("closed")

	// ErrInvalidDimension is returned when creating a collection with dimension 0.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrInvalidMetric is returned for unknown distance metrics.
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrInvalidName is returned for empty collection names.
	ErrInvalidName = errors.New("invalid collection name")

	// ErrInvalidRecord is returned for records that cannot be stored.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidFilter matches every *metadata.FilterParseError.
	ErrInvalidFilter = metadata.ErrInvalidFilter
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// RecordError describes a record rejected by Upsert.
type RecordError struct {
	// Index is the position of the record in the batch.
	Index int
	ID    string
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%q): %v", e.Index, e.ID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, hnsw.ErrIndexCorruption) {
		return fmt.Errorf("%w: %w", ErrIndexCorruption, err)
	}
	if errors.Is(err, search.ErrInvalidParams) || errors.Is(err, hnsw.ErrInvalidK) || errors.Is(err, hnsw.ErrInvalidEF) || errors.Is(err, distance.ErrZeroVector) {
		return fmt.Errorf("%w: %w", ErrInvalidQueryParams, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, engine.ErrUnknownToken) {
		return fmt.Errorf("%w: %w", ErrUnknownToken, err)
	}

	return err
}
