package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mcphub/internal/transport"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// CallTool executes a tool on the named server, enforcing the server's
// per-call timeout (or the override, when positive). Calls against a
// disabled tool return a PermissionError before any I/O; calls against
// a server that is not connected return a ConnectionError. A timeout
// cancels the in-flight call and leaves the session up; a transport
// fault marks the connection disconnected and arms the reconnect
// schedule.
func (m *Manager) CallTool(ctx context.Context, name, tool string, args map[string]interface{}, timeoutOverride time.Duration) (*mcp.CallToolResult, error) {
	conn := m.get(name)
	if conn == nil {
		return nil, NewServerNotFoundError(name)
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	cfg := conn.Config()
	if cfg.ToolDisabled(tool) {
		return nil, &PermissionError{Server: name, Tool: tool}
	}
	tr := conn.Transport()
	if conn.State() != StateConnected || tr == nil {
		return nil, &transport.ConnectionError{
			Server: name,
			Err:    fmt.Errorf("server is %s", conn.State()),
		}
	}

	budget := cfg.Timeout()
	if timeoutOverride > 0 {
		budget = timeoutOverride
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	result, err := tr.CallTool(callCtx, tool, args)
	if err != nil {
		return nil, m.classifyCallError(conn, "callTool", budget, err)
	}

	logging.Debug("CallExecutor", "Tool %s on %s completed in %s", tool, name, time.Since(start))
	return result, nil
}

// ReadResource retrieves a resource from the named server under the
// same timeout and error rules as CallTool.
func (m *Manager) ReadResource(ctx context.Context, name, uri string) (*mcp.ReadResourceResult, error) {
	conn := m.get(name)
	if conn == nil {
		return nil, NewServerNotFoundError(name)
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	tr := conn.Transport()
	if conn.State() != StateConnected || tr == nil {
		return nil, &transport.ConnectionError{
			Server: name,
			Err:    fmt.Errorf("server is %s", conn.State()),
		}
	}

	budget := conn.Config().Timeout()
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result, err := tr.ReadResource(callCtx, uri)
	if err != nil {
		return nil, m.classifyCallError(conn, "readResource", budget, err)
	}
	return result, nil
}

// classifyCallError finishes the taxonomy work the transport layer
// cannot do on its own: the budget is stamped onto timeouts, and a
// transport fault flips the connection to disconnected with the
// backoff schedule armed. Cancellation passes through untouched.
func (m *Manager) classifyCallError(conn *Connection, op string, budget time.Duration, err error) error {
	var timeoutErr *transport.TimeoutError
	if errors.As(err, &timeoutErr) {
		timeoutErr.Budget = budget
		logging.Warn("CallExecutor", "%s on %s exceeded its %s budget", op, conn.name, budget)
		return err
	}

	if isTransportFault(err) {
		m.handleTransportFailure(conn, err)
		return err
	}

	return err
}
