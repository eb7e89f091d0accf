// Package equiv implements a disjoint-set forest keyed by sparse 64-bit
// segment identifiers.
//
// # Representatives
//
// Every class is represented by its minimum member. Trees are balanced by
// union-by-rank and flattened by path compression, and each root caches the
// minimum of its class, so Find is amortized near O(1) while the reported
// representative stays independent of merge order. This keeps serialized
// equivalences and any color derived from the representative stable.
//
// # Notifications
//
// Every call that changes structure fires exactly one change notification.
// Bulk updates should run inside Batch, which coalesces them into one:
//
//	sets.Batch(func() {
//	    for _, p := range pairs {
//	        sets.Union(p[0], p[1])
//	    }
//	})
//
// # Thread Safety
//
// Sets follows a single-writer discipline. Find, Union and the other
// mutating calls must not run concurrently with anything else; Lookup does
// not compress paths and is safe for concurrent readers while no writer is
// active. Callers that need concurrent readers guard Sets with a RWMutex
// (see package identity).
package equiv
