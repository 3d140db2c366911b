// Package resource limits background work so that maintenance does not
// starve foreground queries.
//
// A Controller bounds how many maintenance jobs (compaction, snapshot
// writes) run at once and paces them with token buckets:
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackground:         2,
//	    CompactionNodesPerSec: 50_000,
//	    IOBytesPerSec:         64 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// All methods are safe for concurrent use, and a nil *Controller imposes
// no limits.
package resource
