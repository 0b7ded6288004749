// Package logging provides a thin subsystem-tagged wrapper around log/slog.
//
// Every component of the hub logs through the same four helpers
// (Debug, Info, Warn, Error), each taking a subsystem label so log
// output can be filtered per component (ConnectionManager, FileWatcher,
// StdioTransport, ...). Init must be called once at startup; before
// that, logging is a no-op above the default Info level.
package logging
