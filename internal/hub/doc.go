// Package hub owns the set of named server connections and everything
// that keeps them healthy: lifecycle (connect, disconnect, restart with
// per-name serialization and backoff retry), filesystem watching with
// debounced restarts, tool visibility filtering, call execution with
// per-call timeouts, and durable persistence of the merged configuration
// snapshot and per-server tool caches.
//
// The connection map is owned exclusively by the Manager; callers only
// ever go through its accessor methods. Operations against the same
// named connection are totally ordered (a restart blocks calls on that
// connection until it completes); operations against different
// connections run independently and in parallel.
package hub
