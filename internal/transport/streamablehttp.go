package transport

import (
	"context"
	"fmt"

	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// StreamableHTTPTransport implements Transport over chunked HTTP
// requests on a single logical session. From the caller's perspective
// its contract is identical to SSE.
type StreamableHTTPTransport struct {
	base
	url     string
	headers map[string]string
}

// NewStreamableHTTPTransport creates a streamable-HTTP transport for
// the given URL and headers.
func NewStreamableHTTPTransport(server, url string, headers map[string]string) *StreamableHTTPTransport {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &StreamableHTTPTransport{
		base:    base{server: server},
		url:     url,
		headers: headers,
	}
}

// Connect establishes the session and performs the protocol handshake.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	logging.Debug("StreamableHTTPTransport", "Creating session to %s for server %s", t.url, t.server)

	var opts []transport.StreamableHTTPCOption
	if len(t.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(t.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(t.url, opts...)
	if err != nil {
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("failed to create HTTP client: %w", err)}
	}

	initResult, err := mcpClient.Initialize(ctx, initializeRequest())
	if err != nil {
		mcpClient.Close()
		return &ConnectionError{Server: t.server, Err: fmt.Errorf("handshake failed: %w", err)}
	}

	t.adopt(mcpClient)

	logging.Debug("StreamableHTTPTransport", "Connected to %s (%s %s)",
		t.server, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

// Close shuts down the session.
func (t *StreamableHTTPTransport) Close() error {
	return t.closeClient()
}

// ListTools returns all tools the server advertises.
func (t *StreamableHTTPTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return t.listTools(ctx)
}

// CallTool executes a tool and returns its result.
func (t *StreamableHTTPTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return t.callTool(ctx, name, args)
}

// ListResources returns all resources the server advertises.
func (t *StreamableHTTPTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return t.listResources(ctx)
}

// ReadResource retrieves a specific resource by URI.
func (t *StreamableHTTPTransport) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return t.readResource(ctx, uri)
}

// Ping checks if the server is responsive.
func (t *StreamableHTTPTransport) Ping(ctx context.Context) error {
	return t.ping(ctx)
}
