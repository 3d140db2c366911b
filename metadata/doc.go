// Package metadata provides typed metadata documents, the filter language
// used to restrict queries, and a Roaring Bitmap inverted index.
//
// # Metadata Types
//
// Metadata values can be:
//
//   - String: metadata.String("comedy")
//   - Int: metadata.Int(2020)
//   - Float: metadata.Float(0.5)
//   - Bool: metadata.Bool(true)
//   - Array: metadata.Array(metadata.String("a"), metadata.String("b"))
//
// # Filter Language
//
// Filters are written as JSON-like maps and compiled once:
//
//	f, err := metadata.Compile(map[string]any{
//	    "genre": map[string]any{"$eq": "comedy"},
//	    "year":  map[string]any{"$gte": 2020},
//	}, nil)
//
// Supported operators are $eq, $ne, $gt, $gte, $lt, $lte, $in and $nin.
// Top-level keys are combined with AND; $and and $or take lists of
// sub-filters; a bare value is shorthand for $eq. Compilation rejects
// malformed filters with a *FilterParseError. Evaluation never fails:
// missing fields and type mismatches simply do not match.
//
// Filters can also be built directly:
//
//	f := metadata.And(
//	    metadata.Eq("genre", metadata.String("comedy")),
//	    metadata.Gte("year", metadata.Int(2020)),
//	)
package metadata
