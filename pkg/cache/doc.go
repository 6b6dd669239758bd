// Package cache keeps the most recent persisted contact record of each peer.
//
// The throttle gate consults this table to decide whether a new observation of a peer is worth
// storing. A [RecordCache] is bounded and evicts the least recently used peer, so a crowded
// environment cannot grow it without limit. A peer that was evicted is treated as a first contact
// the next time it is seen.
//
// Exporting the cache with [RecordCache.Export] or [RecordCache.ExportToFile] on shutdown and
// importing it on startup keeps the throttle window intact across restarts. The exported data
// contains peer identifiers and should be protected with file access controls.
package cache
