package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultStdioInitTimeout bounds stdio connection establishment. It
// covers starting the subprocess and completing the MCP handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioTransport implements Transport over a local subprocess that
// communicates via stdin/stdout.
type StdioTransport struct {
	base
	command string
	args    []string
	env     map[string]string
}

// NewStdioTransport creates a stdio transport for the given command,
// arguments, and environment variables.
func NewStdioTransport(server, command string, args []string, env map[string]string) *StdioTransport {
	return &StdioTransport{
		base:    base{server: server},
		command: command,
		args:    args,
		env:     env,
	}
}

// Connect spawns the subprocess and performs the protocol handshake.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	logging.Debug("StdioTransport", "Starting %s %v for server %s", t.command, t.args, t.server)

	var envStrings []string
	for k, v := range t.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	// Creating the client starts the process.
	mcpClient, err := client.NewStdioMCPClient(t.command, envStrings, t.args...)
	if err != nil {
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("failed to start process: %w", err)}
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	initResult, err := mcpClient.Initialize(initCtx, initializeRequest())
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioTransport", "Error closing failed client for %s: %v", t.server, closeErr)
		}
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("handshake failed: %w", err)}
	}

	t.adopt(mcpClient)

	logging.Debug("StdioTransport", "Connected to %s (%s %s)",
		t.server, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

// Close terminates the subprocess and waits (bounded by mcp-go's
// internal shutdown handling) for it to exit.
func (t *StdioTransport) Close() error {
	return t.closeClient()
}

// ListTools returns all tools the server advertises.
func (t *StdioTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return t.listTools(ctx)
}

// CallTool executes a tool and returns its result.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return t.callTool(ctx, name, args)
}

// ListResources returns all resources the server advertises.
func (t *StdioTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return t.listResources(ctx)
}

// ReadResource retrieves a specific resource by URI.
func (t *StdioTransport) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return t.readResource(ctx, uri)
}

// Ping checks if the server is responsive.
func (t *StdioTransport) Ping(ctx context.Context) error {
	return t.ping(ctx)
}

// Stderr returns a reader for the subprocess's stderr output, when the
// transport is connected.
func (t *StdioTransport) Stderr() (io.Reader, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected || t.client == nil {
		return nil, false
	}

	if concreteClient, ok := t.client.(*client.Client); ok {
		return client.GetStderr(concreteClient)
	}

	return nil, false
}
