package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// protocolVersion is the MCP protocol revision the hub negotiates.
const protocolVersion = "2024-11-05"

// clientName and clientVersion identify the hub during the handshake.
const (
	clientName    = "mcphub"
	clientVersion = "1.0.0"
)

// Transport is the single polymorphic capability set over one external
// tool server. All operations taking a context are cancellable; a
// cancelled call stops promptly without tearing down the session.
type Transport interface {
	// Connect establishes the connection and performs the protocol
	// handshake. Failures are returned as *ConnectionError.
	Connect(ctx context.Context) error
	// Close cleanly shuts down the connection. For stdio this
	// terminates the child process and waits (bounded) for exit.
	Close() error
	// ListTools returns all tools the server advertises.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes a tool and returns its result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// ListResources returns all resources the server advertises.
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	// ReadResource retrieves a specific resource by URI.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	// Ping checks if the server is responsive.
	Ping(ctx context.Context) error
}

// Compile-time interface compliance checks
var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*SSETransport)(nil)
	_ Transport = (*StreamableHTTPTransport)(nil)
)

// base provides the MCP protocol operations shared by every transport
// variant; only connection establishment differs between them.
type base struct {
	server    string
	client    client.MCPClient
	mu        sync.RWMutex
	connected bool
}

// checkConnected verifies the client is connected. Caller must hold at
// least a read lock on mu.
func (b *base) checkConnected() error {
	if !b.connected || b.client == nil {
		return &ConnectionError{Server: b.server, Err: errors.New("not connected")}
	}
	return nil
}

// closeClient performs the common close logic.
func (b *base) closeClient() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil

	return err
}

// adopt stores a freshly-initialized client. Caller must hold mu.
func (b *base) adopt(c client.MCPClient) {
	b.client = c
	b.connected = true
}

func (b *base) listTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, Classify(b.server, "listTools", 0, err)
	}

	return result.Tools, nil
}

func (b *base) callTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, Classify(b.server, "callTool", 0, err)
	}

	return result, nil
}

func (b *base) listResources(ctx context.Context) ([]mcp.Resource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, Classify(b.server, "listResources", 0, err)
	}

	return result.Resources, nil
}

func (b *base) readResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{
			URI: uri,
		},
	})
	if err != nil {
		return nil, Classify(b.server, "readResource", 0, err)
	}

	return result, nil
}

func (b *base) ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}

	if err := b.client.Ping(ctx); err != nil {
		return Classify(b.server, "ping", 0, err)
	}
	return nil
}

// initializeRequest builds the standard handshake request.
func initializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
}
