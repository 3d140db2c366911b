// Package annex provides an embeddable approximate nearest neighbor vector
// search engine with metadata filtering.
//
// An Engine owns named collections. A collection has a fixed dimension and
// distance metric and is partitioned into namespaces; each namespace has its
// own record table and proximity graph, and no operation reads across
// namespaces.
//
// # Quick Start
//
//	ctx := context.Background()
//	eng := annex.New(annex.WithLogger(annex.NewTextLogger(slog.LevelInfo)))
//	defer eng.Close()
//
//	movies, _ := eng.CreateCollection(ctx, "movies", 1536, distance.Cosine)
//
//	res, _ := movies.Upsert(ctx, "", []annex.Record{
//	    {ID: "a", Vector: embedA, Metadata: map[string]any{"genre": "comedy", "year": 2020}},
//	    {ID: "b", Vector: embedB, Metadata: map[string]any{"genre": "thriller", "year": 2021}},
//	})
//
//	matches, _ := movies.Query(ctx, "", query, 10,
//	    annex.WithFilter(map[string]any{"genre": map[string]any{"$eq": "comedy"}}),
//	)
//
// # Consistency Model
//
// Upsert stores records synchronously: once it returns, Fetch and Stats see
// them. Linking them into the graph happens in the background on the
// engine's worker pool, one writer per collection. Until then a record is
// not returned by Query. Poll IsVisible with the returned PendingToken, or
// call WaitIndexed, to observe indexing progress:
//
//	for {
//	    v, _ := movies.IsVisible(res.Token)
//	    if v.Done() {
//	        break
//	    }
//	    time.Sleep(10 * time.Millisecond)
//	}
//
// Upserting an existing id replaces the record; the old graph node is
// tombstoned at once, so a query never returns the stale version. Delete
// tombstones immediately as well. Compact reclaims tombstones after their
// retention period.
//
// # Filtering
//
// Filters use the Pinecone-style JSON dialect: $eq, $ne, $gt, $gte, $lt,
// $lte, $in, $nin, $and, $or, with implicit AND across top-level fields.
// Small filtered subsets are scored exactly; otherwise the graph search
// over-fetches and widens until k matches are found or the candidate cap is
// reached. Fewer than k matches is a valid result.
//
// # Snapshots
//
// SaveCollection and RestoreCollection move collections to and from any
// blobstore.Store (memory, local disk, S3, MinIO, Badger).
package annex
