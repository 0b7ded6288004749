package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
)

// State describes where a connection is in its lifecycle.
type State string

const (
	// StateConnecting means a handshake is in progress.
	StateConnecting State = "connecting"
	// StateConnected means the handshake completed and calls are served.
	StateConnected State = "connected"
	// StateDisconnected means the server is unreachable; cached tool
	// lists are still served, marked stale.
	StateDisconnected State = "disconnected"
	// StateRestarting means a watched file changed and the connection is
	// being torn down before reconnecting.
	StateRestarting State = "restarting"
)

// Connection is the manager-owned record for one named server. Field
// access goes through the mutex; lifecycle ordering (who may replace
// the transport, and when) is enforced separately by the manager's
// per-name locks.
type Connection struct {
	name string

	mu        sync.RWMutex
	cfg       config.ServerConfig
	state     State
	transport transport.Transport

	tools     []mcp.Tool
	resources []mcp.Resource
	cachedAt  time.Time
	hasCache  bool

	retryAttempt int
	retryTimer   *time.Timer

	// restartQueued collapses bursts: at most one restart waits behind
	// the one in flight.
	restartQueued atomic.Bool

	watcher *fileWatcher
}

func newConnection(cfg config.ServerConfig) *Connection {
	return &Connection{
		name:  cfg.Name,
		cfg:   cfg,
		state: StateDisconnected,
	}
}

// Name returns the connection's configured name.
func (c *Connection) Name() string {
	return c.name
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Config returns a copy of the active configuration.
func (c *Connection) Config() config.ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Connection) setConfig(cfg config.ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Transport returns the current transport handle, or nil when the
// connection has never been established.
func (c *Connection) Transport() transport.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// swapTransport installs a new transport handle and returns the
// previous one so the caller can close it.
func (c *Connection) swapTransport(t transport.Transport) transport.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.transport
	c.transport = t
	return old
}

// setCaches replaces the cached tool and resource lists after a
// successful refresh.
func (c *Connection) setCaches(tools []mcp.Tool, resources []mcp.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.resources = resources
	c.cachedAt = time.Now()
	c.hasCache = true
}

// cachedTools returns the last known tool list. ok is false when no
// refresh has ever succeeded and no persisted cache was loaded.
func (c *Connection) cachedTools() (tools []mcp.Tool, at time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools, c.cachedAt, c.hasCache
}

func (c *Connection) cachedResources() (resources []mcp.Resource, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources, c.hasCache
}

// nextRetryAttempt advances the backoff counter and returns the new
// attempt number, starting at 1.
func (c *Connection) nextRetryAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryAttempt++
	return c.retryAttempt
}

func (c *Connection) resetRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryAttempt = 0
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setRetryTimer stores the pending reconnect timer, stopping any timer
// it replaces.
func (c *Connection) setRetryTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = t
}

func (c *Connection) stopRetryTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}
