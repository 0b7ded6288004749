package transport

import (
	"context"
	"fmt"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// SSETransport implements Transport over a persistent Server-Sent-Events
// stream. Tool calls go out as separate HTTP requests correlated to
// stream events by request id; mcp-go handles the correlation.
type SSETransport struct {
	base
	url     string
	headers map[string]string
}

// NewSSETransport creates an SSE transport for the given URL and headers.
func NewSSETransport(server, url string, headers map[string]string) *SSETransport {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &SSETransport{
		base:    base{server: server},
		url:     url,
		headers: headers,
	}
}

// Connect opens the event stream and performs the protocol handshake.
func (t *SSETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	logging.Debug("SSETransport", "Opening SSE stream to %s for server %s", t.url, t.server)

	var opts []transport.ClientOption
	if len(t.headers) > 0 {
		opts = append(opts, transport.WithHeaders(t.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(t.url, opts...)
	if err != nil {
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("failed to create SSE client: %w", err)}
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("failed to open event stream: %w", err)}
	}

	initResult, err := mcpClient.Initialize(ctx, initializeRequest())
	if err != nil {
		mcpClient.Close()
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("handshake failed: %w", err)}
	}

	t.adopt(mcpClient)

	logging.Debug("SSETransport", "Connected to %s (%s %s)",
		t.server, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

// Close shuts down the event stream.
func (t *SSETransport) Close() error {
	return t.closeClient()
}

// ListTools returns all tools the server advertises.
func (t *SSETransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return t.listTools(ctx)
}

// CallTool executes a tool and returns its result.
func (t *SSETransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return t.callTool(ctx, name, args)
}

// ListResources returns all resources the server advertises.
func (t *SSETransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return t.listResources(ctx)
}

// ReadResource retrieves a specific resource by URI.
func (t *SSETransport) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return t.readResource(ctx, uri)
}

// Ping checks if the server is responsive.
func (t *SSETransport) Ping(ctx context.Context) error {
	return t.ping(ctx)
}
