// Package cache provides a byte-budgeted LRU cache.
//
// Entries are charged against a local capacity and, when a
// resource.Controller is supplied, against its shared memory budget. An
// OnEvict callback observes every entry that leaves the cache other than
// through an explicit Remove.
package cache
