package hub

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mcphub/internal/config"
	"mcphub/internal/store"
	"mcphub/internal/transport"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// RestartGracePeriod is how long a restart waits between tearing the
// old connection down and dialing the new one, giving stdio child
// processes time to release resources.
const RestartGracePeriod = 200 * time.Millisecond

// retryBackoff is the reconnect schedule. After the last entry the
// connection holds at Disconnected until a config change or an explicit
// restart.
var retryBackoff = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// TransportFactory builds the transport for a server configuration.
// Swappable for tests.
type TransportFactory func(config.ServerConfig) (transport.Transport, error)

// Manager owns the connection map and serializes lifecycle operations
// per name: restart, connect, and teardown take the name's write lock,
// calls and listings take its read lock. Different names never contend.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	nameLocks   map[string]*sync.RWMutex

	pathMu    sync.Mutex
	pathLocks map[string]*sync.Mutex

	factory  TransportFactory
	store    *store.Store
	stateDir string
	debounce time.Duration

	// restartCh carries debounced restart requests from the per-server
	// file watchers.
	restartCh chan string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager persisting state under stateDir.
func NewManager(stateDir string, st *store.Store) *Manager {
	if st == nil {
		st = store.New()
	}
	return &Manager{
		connections: make(map[string]*Connection),
		nameLocks:   make(map[string]*sync.RWMutex),
		pathLocks:   make(map[string]*sync.Mutex),
		factory:     transport.New,
		store:       st,
		stateDir:    stateDir,
		debounce:    DefaultDebounceWindow,
		restartCh:   make(chan string, 64),
	}
}

// SetTransportFactory replaces the transport constructor. Must be
// called before Start. Mainly used by tests.
func (m *Manager) SetTransportFactory(f TransportFactory) {
	m.factory = f
}

// SetDebounceWindow overrides the file-watcher quiet period. Must be
// called before Start.
func (m *Manager) SetDebounceWindow(d time.Duration) {
	m.debounce = d
}

// Start launches the restart consumer. The manager runs until Stop is
// called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.processRestarts()
}

// Stop tears down every connection and halts background work.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.removeConnection(name)
	}
}

// processRestarts consumes debounced restart requests. Each request is
// handled on its own goroutine so one slow restart never delays others.
func (m *Manager) processRestarts() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case name := <-m.restartCh:
			go func(n string) {
				if err := m.Restart(m.ctx, n); err != nil {
					logging.Error("ConnectionManager", err, "Restart of %s failed", n)
				}
			}(name)
		}
	}
}

// snapshotDocument is the merged configuration persisted after every
// successful reconcile.
type snapshotDocument struct {
	Servers   map[string]config.ServerConfig `json:"servers"`
	UpdatedAt time.Time                      `json:"updatedAt"`
}

// cacheDocument is the per-server tool and resource cache persisted
// after every successful refresh, and reloaded on startup so callers
// can see a (stale) tool list before the first connect completes.
type cacheDocument struct {
	Server    string         `json:"server"`
	Tools     []mcp.Tool     `json:"tools"`
	Resources []mcp.Resource `json:"resources,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (m *Manager) snapshotPath() string {
	return filepath.Join(m.stateDir, "config-snapshot.json")
}

func (m *Manager) cachePath(name string) string {
	return filepath.Join(m.stateDir, "caches", name+".json")
}

// Reconcile drives the connection map toward the given merged
// configuration: new servers are connected (in parallel), removed or
// disabled servers are torn down, connection-parameter changes trigger
// a restart, and permission or timeout changes are applied live. The
// merged snapshot is persisted; a persistence failure is returned after
// the connection changes have been applied.
func (m *Manager) Reconcile(ctx context.Context, cfgs map[string]config.ServerConfig) error {
	desired := make(map[string]config.ServerConfig, len(cfgs))
	for name, cfg := range cfgs {
		if cfg.Disabled {
			continue
		}
		desired[name] = cfg
	}

	m.mu.RLock()
	existing := make(map[string]*Connection, len(m.connections))
	for name, conn := range m.connections {
		existing[name] = conn
	}
	m.mu.RUnlock()

	for name := range existing {
		if _, ok := desired[name]; !ok {
			logging.Info("ConnectionManager", "Removing server %s", name)
			m.removeConnection(name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, cfg := range desired {
		conn, ok := existing[name]
		if !ok {
			added := m.addConnection(cfg)
			g.Go(func() error {
				if err := m.connect(gctx, added); err != nil {
					logging.Warn("ConnectionManager", "Initial connect of %s failed: %v", added.name, err)
				}
				return nil
			})
			continue
		}

		current := conn.Config()
		switch {
		case current.Equal(cfg):
			// unchanged
		case current.ConnectionEqual(cfg) && watchPathsEqual(current.WatchPaths, cfg.WatchPaths):
			m.UpdatePermissions(name, cfg)
		default:
			logging.Info("ConnectionManager", "Connection parameters for %s changed, restarting", name)
			conn.setConfig(cfg)
			if !watchPathsEqual(current.WatchPaths, cfg.WatchPaths) {
				if conn.watcher != nil {
					conn.watcher.stop()
					conn.watcher = nil
				}
				m.startWatcher(conn)
			}
			g.Go(func() error {
				if err := m.Restart(gctx, name); err != nil {
					logging.Warn("ConnectionManager", "Restart of %s failed: %v", name, err)
				}
				return nil
			})
		}
	}
	g.Wait()

	return m.persistSnapshot(desired)
}

func watchPathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// addConnection registers a new connection in Disconnected state, loads
// any persisted tool cache, and starts its file watcher.
func (m *Manager) addConnection(cfg config.ServerConfig) *Connection {
	conn := newConnection(cfg)
	m.loadCache(conn)
	m.startWatcher(conn)

	m.mu.Lock()
	m.connections[cfg.Name] = conn
	m.mu.Unlock()

	return conn
}

// removeConnection tears a connection down completely: watcher, retry
// timer, transport, map entry.
func (m *Manager) removeConnection(name string) {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if ok {
		delete(m.connections, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	conn.stopRetryTimer()
	if conn.watcher != nil {
		conn.watcher.stop()
	}
	if old := conn.swapTransport(nil); old != nil {
		if err := old.Close(); err != nil {
			logging.Warn("ConnectionManager", "Close of %s returned error: %v", name, err)
		}
	}
	conn.setState(StateDisconnected)
}

// UpdatePermissions applies a configuration change that does not touch
// connection parameters. The running transport is left alone; new
// permission and timeout values take effect on the next call.
func (m *Manager) UpdatePermissions(name string, cfg config.ServerConfig) {
	conn := m.get(name)
	if conn == nil {
		return
	}
	logging.Debug("ConnectionManager", "Applying live config update for %s", name)
	conn.setConfig(cfg)
}

// Connect establishes the connection for name, serialized against any
// other lifecycle operation on the same name.
func (m *Manager) Connect(ctx context.Context, name string) error {
	conn := m.get(name)
	if conn == nil {
		return NewServerNotFoundError(name)
	}
	return m.connect(ctx, conn)
}

func (m *Manager) connect(ctx context.Context, conn *Connection) error {
	lock := m.lockFor(conn.name)
	lock.Lock()
	defer lock.Unlock()
	return m.connectLocked(ctx, conn)
}

// connectLocked performs the actual dial. Caller holds the name's write
// lock. A handshake failure schedules a backoff retry.
func (m *Manager) connectLocked(ctx context.Context, conn *Connection) error {
	cfg := conn.Config()
	conn.setState(StateConnecting)

	tr, err := m.factory(cfg)
	if err != nil {
		conn.setState(StateDisconnected)
		return &transport.ConnectionError{Server: conn.name, Err: err}
	}

	if err := tr.Connect(ctx); err != nil {
		conn.setState(StateDisconnected)
		m.scheduleRetry(conn)
		return err
	}

	if old := conn.swapTransport(tr); old != nil {
		old.Close()
	}
	conn.setState(StateConnected)
	conn.resetRetry()
	logging.Info("ConnectionManager", "Connected to %s", conn.name)

	if err := m.refreshCaches(ctx, conn); err != nil {
		logging.Error("ConnectionManager", err, "Cache refresh for %s failed after connect", conn.name)
	}
	return nil
}

// scheduleRetry arms the next reconnect per the backoff schedule. Once
// the schedule is exhausted the connection holds at Disconnected.
func (m *Manager) scheduleRetry(conn *Connection) {
	attempt := conn.nextRetryAttempt()
	if attempt > len(retryBackoff) {
		logging.Info("ConnectionManager", "Retry schedule for %s exhausted, holding disconnected", conn.name)
		return
	}
	delay := retryBackoff[attempt-1]
	logging.Debug("ConnectionManager", "Scheduling reconnect of %s in %s (attempt %d)", conn.name, delay, attempt)

	timer := time.AfterFunc(delay, func() {
		if m.ctx != nil && m.ctx.Err() != nil {
			return
		}
		if m.get(conn.name) != conn {
			return
		}
		ctx := m.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := m.connect(ctx, conn); err != nil {
			logging.Debug("ConnectionManager", "Reconnect of %s failed: %v", conn.name, err)
		}
	})
	conn.setRetryTimer(timer)
}

// Restart tears the connection down and dials it again with the
// current configuration. Requests for a name already restarting
// collapse: at most one restart runs, at most one more waits.
func (m *Manager) Restart(ctx context.Context, name string) error {
	conn := m.get(name)
	if conn == nil {
		return NewServerNotFoundError(name)
	}

	if !conn.restartQueued.CompareAndSwap(false, true) {
		logging.Debug("ConnectionManager", "Restart of %s already queued, collapsing", name)
		return nil
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	conn.restartQueued.Store(false)

	if m.get(name) != conn {
		return nil
	}

	logging.Info("ConnectionManager", "Restarting %s", name)
	conn.setState(StateRestarting)
	conn.stopRetryTimer()
	if old := conn.swapTransport(nil); old != nil {
		if err := old.Close(); err != nil {
			logging.Warn("ConnectionManager", "Close of %s during restart returned error: %v", name, err)
		}
	}

	select {
	case <-ctx.Done():
		conn.setState(StateDisconnected)
		return ctx.Err()
	case <-time.After(RestartGracePeriod):
	}

	return m.connectLocked(ctx, conn)
}

// handleTransportFailure reacts to a mid-operation fault: the
// connection is marked disconnected, the dead transport is closed, and
// a backoff reconnect is scheduled. Cached tool lists survive so
// listings keep working (marked stale).
func (m *Manager) handleTransportFailure(conn *Connection, err error) {
	logging.Warn("ConnectionManager", "Transport failure on %s: %v", conn.name, err)
	conn.setState(StateDisconnected)
	if old := conn.swapTransport(nil); old != nil {
		old.Close()
	}
	m.scheduleRetry(conn)
}

// refreshCaches pulls the tool and resource lists and persists them.
// Caller holds at least the name's read lock and the connection is
// Connected.
func (m *Manager) refreshCaches(ctx context.Context, conn *Connection) error {
	tr := conn.Transport()
	if tr == nil {
		return &transport.ConnectionError{Server: conn.name, Err: fmt.Errorf("no transport")}
	}

	listCtx, cancel := context.WithTimeout(ctx, conn.Config().Timeout())
	defer cancel()

	tools, err := tr.ListTools(listCtx)
	if err != nil {
		return err
	}

	resources, err := tr.ListResources(listCtx)
	if err != nil {
		// Not every server implements resources; keep the tool cache.
		logging.Debug("ConnectionManager", "Resource listing for %s failed: %v", conn.name, err)
		resources = nil
	}

	conn.setCaches(tools, resources)
	return m.persistCache(conn)
}

// persistSnapshot writes the merged configuration to the state
// directory. Serialized per path so concurrent reconciles cannot
// interleave temp files.
func (m *Manager) persistSnapshot(cfgs map[string]config.ServerConfig) error {
	doc := snapshotDocument{Servers: cfgs, UpdatedAt: time.Now()}
	return m.writeDocument(m.snapshotPath(), doc)
}

func (m *Manager) persistCache(conn *Connection) error {
	tools, at, ok := conn.cachedTools()
	if !ok {
		return nil
	}
	resources, _ := conn.cachedResources()
	doc := cacheDocument{
		Server:    conn.name,
		Tools:     tools,
		Resources: resources,
		UpdatedAt: at,
	}
	return m.writeDocument(m.cachePath(conn.name), doc)
}

func (m *Manager) writeDocument(path string, v interface{}) error {
	mu := m.pathLockFor(path)
	mu.Lock()
	defer mu.Unlock()
	return m.store.WriteJSON(path, v)
}

// loadCache restores a persisted tool cache so a server's tools are
// visible (stale) before its first connect completes.
func (m *Manager) loadCache(conn *Connection) {
	var doc cacheDocument
	err := m.store.ReadJSON(m.cachePath(conn.name), &doc)
	if err != nil {
		if err != store.ErrNotExist {
			logging.Warn("ConnectionManager", "Failed to load cached tools for %s: %v", conn.name, err)
		}
		return
	}

	conn.mu.Lock()
	conn.tools = doc.Tools
	conn.resources = doc.Resources
	conn.cachedAt = doc.UpdatedAt
	conn.hasCache = true
	conn.mu.Unlock()

	logging.Debug("ConnectionManager", "Loaded %d cached tools for %s", len(doc.Tools), conn.name)
}

// startWatcher arms the file watcher when the configuration names
// paths to watch. A watcher failure is logged, not fatal: the server
// still runs, it just will not restart automatically.
func (m *Manager) startWatcher(conn *Connection) {
	cfg := conn.Config()
	if len(cfg.WatchPaths) == 0 {
		return
	}

	w, err := newFileWatcher(conn.name, cfg.WatchPaths, m.debounce, m.restartCh)
	if err != nil {
		logging.Error("ConnectionManager", err, "Failed to create watcher for %s", conn.name)
		return
	}
	if err := w.start(); err != nil {
		logging.Error("ConnectionManager", err, "Failed to start watcher for %s", conn.name)
		return
	}
	conn.watcher = w
}

// Tools lists the server's tools after permission filtering. For a
// connected server the list is refreshed live and persisted; a refresh
// failure falls back to the cache and marks the connection for
// reconnect. For a disconnected server the last cached list is served,
// marked stale.
func (m *Manager) Tools(ctx context.Context, name string) (ToolListing, error) {
	conn := m.get(name)
	if conn == nil {
		return ToolListing{}, NewServerNotFoundError(name)
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	cfg := conn.Config()

	if conn.State() == StateConnected {
		err := m.refreshCaches(ctx, conn)
		if err == nil {
			tools, _, _ := conn.cachedTools()
			return ToolListing{Server: name, Tools: FilterTools(tools, cfg)}, nil
		}
		var connErr *transport.ConnectionError
		switch {
		case isTransportFault(err):
			m.handleTransportFailure(conn, err)
		case errors.As(err, &connErr):
			// Lost a race with a concurrent fault handler; the cache
			// below still answers.
		default:
			return ToolListing{}, err
		}
	}

	tools, _, ok := conn.cachedTools()
	if !ok {
		return ToolListing{}, &transport.ConnectionError{
			Server: name,
			Err:    fmt.Errorf("server is %s and no cached tools exist", conn.State()),
		}
	}
	return ToolListing{Server: name, Tools: FilterTools(tools, cfg), Stale: true}, nil
}

// Resources lists the server's resources, from cache when disconnected.
func (m *Manager) Resources(ctx context.Context, name string) ([]mcp.Resource, bool, error) {
	conn := m.get(name)
	if conn == nil {
		return nil, false, NewServerNotFoundError(name)
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	if tr := conn.Transport(); conn.State() == StateConnected && tr != nil {
		listCtx, cancel := context.WithTimeout(ctx, conn.Config().Timeout())
		defer cancel()
		resources, err := tr.ListResources(listCtx)
		if err == nil {
			return resources, false, nil
		}
		if isTransportFault(err) {
			m.handleTransportFailure(conn, err)
		} else {
			return nil, false, err
		}
	}

	resources, ok := conn.cachedResources()
	if !ok {
		return nil, false, &transport.ConnectionError{
			Server: name,
			Err:    fmt.Errorf("server is %s and no cached resources exist", conn.State()),
		}
	}
	return resources, true, nil
}

// Names returns the configured server names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the connection for name, or nil.
func (m *Manager) Get(name string) *Connection {
	return m.get(name)
}

func (m *Manager) get(name string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connections[name]
}

// lockFor returns the lifecycle lock for a name, creating it on first
// use. Locks are never removed; the set of names is small and bounded
// by configuration.
func (m *Manager) lockFor(name string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.nameLocks[name]
	if !ok {
		lock = &sync.RWMutex{}
		m.nameLocks[name] = lock
	}
	return lock
}

// isTransportFault reports whether err is a mid-operation transport
// failure, the only error class that flips a connection to
// Disconnected. Timeouts and cancellations leave the session up.
func isTransportFault(err error) bool {
	var transportErr *transport.TransportError
	return errors.As(err, &transportErr)
}

func (m *Manager) pathLockFor(path string) *sync.Mutex {
	m.pathMu.Lock()
	defer m.pathMu.Unlock()

	mu, ok := m.pathLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		m.pathLocks[path] = mu
	}
	return mu
}
