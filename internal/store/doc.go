// Package store implements corruption-proof persistence for the hub's
// small JSON documents (the merged configuration snapshot and per-server
// tool caches).
//
// Writes go to a uniquely-named temporary file in the target directory
// and are atomically renamed over the destination, so a reader observes
// either the previous complete document or the next complete document,
// never a partial write - even if the process is killed mid-operation.
//
// The store does not lock. Concurrent writers to the same path must be
// serialized by the caller; the hub keeps a per-path mutex for this.
package store
