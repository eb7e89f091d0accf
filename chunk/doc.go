// Package chunk streams geometry chunks for visible segments and manages
// their GPU residency.
//
// The processing context owns a Source per geometry source. SetNeeded
// recomputes the needed chunk keys from the expanded visible set: absent
// chunks are queued and fetched by at most MaxInFlight goroutines, decoded
// chunks are promoted by sending their payload to the interactive context.
// Fetches that complete after their chunk stopped being needed populate a
// byte-bounded cache instead of being promoted.
//
// The interactive context owns a Residency per source. It allocates GPU
// buffers exactly once per residency period within a GPU memory budget,
// evicting least-recently-needed chunks under pressure. Eviction always
// releases GPU handles before anything else happens, then reports back to
// the Source so the chunk returns to the decoded state. Residencies sharing
// a budget may evict each other's chunks. An upload rejected for lack of
// budget is asked for again by Retry once the budget has room.
//
// Per chunk:
//
//	QUEUED --fetch ok--> DECODED --promote--> GPU_RESIDENT
//	QUEUED --fetch fails--> FAILED (retried on next SetNeeded up to RetryLimit)
//	DECODED --cache eviction--> discarded
//	GPU_RESIDENT --evicted--> DECODED or discarded
//	DECODED --retry--> GPU_RESIDENT
package chunk
