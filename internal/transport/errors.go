package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports a failed handshake or an operation attempted
// against a server that is not connected. Recoverable: the manager
// retries with backoff.
type ConnectionError struct {
	Server string
	Err    error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to server %q failed: %v", e.Server, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError reports a mid-operation failure: process exited, socket
// closed, HTTP error status. Recoverable: the connection is reconnected
// on next use.
type TransportError struct {
	Server string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on server %q during %s: %v", e.Server, e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a call that exceeded its budget. The caller may
// retry; the connection itself stays up.
type TimeoutError struct {
	Server string
	Op     string
	Budget time.Duration
	Err    error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to server %q timed out during %s after %s", e.Server, e.Op, e.Budget)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Classify maps a raw operation error onto the shared taxonomy. A
// deadline expiry becomes a TimeoutError; caller-driven cancellation
// passes through unchanged so it is never mistaken for a transport
// fault; everything else is a TransportError carrying the originating
// server for diagnostics.
func Classify(server, op string, budget time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Server: server, Op: op, Budget: budget, Err: err}
	}
	return &TransportError{Server: server, Op: op, Err: err}
}
