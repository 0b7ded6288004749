// Package transport provides the three interchangeable connection
// strategies to an external tool server - local subprocess over stdio,
// Server-Sent Events, and streamable HTTP - behind a single Transport
// interface.
//
// The variant is selected once, at construction time via New; nothing
// outside this package branches on the transport type. All variants
// speak the MCP protocol through mark3labs/mcp-go, which frames stdio
// traffic as newline-delimited JSON-RPC.
//
// Transport-level failures are mapped onto a shared taxonomy
// (ConnectionError, TransportError, TimeoutError) instead of leaking
// transport-specific errors to callers. Cancelling an in-flight call
// via its context never tears down the underlying session.
package transport
