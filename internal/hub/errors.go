package hub

import "fmt"

// PermissionError reports an attempt to call a tool that the server's
// configuration disables. Not retryable: it indicates a caller/config
// mismatch, not a transient fault.
type PermissionError struct {
	Server string
	Tool   string
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("tool %q is disabled on server %q", e.Tool, e.Server)
}

// ServerNotFoundError reports a request against a server name that is
// not present in the merged configuration.
type ServerNotFoundError struct {
	Server string
}

// Error implements the error interface.
func (e *ServerNotFoundError) Error() string {
	return fmt.Sprintf("server %q is not configured", e.Server)
}

// NewServerNotFoundError creates a ServerNotFoundError.
func NewServerNotFoundError(name string) *ServerNotFoundError {
	return &ServerNotFoundError{Server: name}
}
