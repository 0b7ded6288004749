package hub

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/store"
	"mcphub/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// configWatchLabel is the name the hub's own config watcher emits; it
// can never collide with a server name because names with spaces are
// rejected at validation and this one carries a slash.
const configWatchLabel = "hub/config"

// Options configures a Hub.
type Options struct {
	// GlobalPath and ProjectPath locate the two configuration layers.
	// Either may point at a file that does not exist yet.
	GlobalPath  string
	ProjectPath string

	// StateDir receives the persisted snapshot and tool caches.
	StateDir string

	// Debounce overrides the file-watcher quiet period; zero keeps the
	// default.
	Debounce time.Duration
}

// Hub is the caller-facing surface: it loads and merges configuration,
// drives the connection manager toward it, reloads on config-file
// changes, and answers listing and call requests.
type Hub struct {
	opts    Options
	loader  *config.Loader
	manager *Manager

	reloadCh      chan string
	configWatcher *fileWatcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a Hub. Nothing is connected until Start.
func New(opts Options) (*Hub, error) {
	if opts.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if opts.GlobalPath == "" && opts.ProjectPath == "" {
		return nil, fmt.Errorf("at least one configuration path is required")
	}

	manager := NewManager(opts.StateDir, store.New())
	if opts.Debounce > 0 {
		manager.SetDebounceWindow(opts.Debounce)
	}

	return &Hub{
		opts:     opts,
		loader:   config.NewLoader(),
		manager:  manager,
		reloadCh: make(chan string, 4),
	}, nil
}

// Manager exposes the connection manager, mainly for tests.
func (h *Hub) Manager() *Manager {
	return h.manager
}

// Start loads both configuration layers, connects every enabled server
// in parallel, and begins watching the configuration files themselves
// so edits are picked up without a restart. Individual servers that
// fail to connect do not fail startup; they retry on the backoff
// schedule. A configuration error does fail startup: there is nothing
// sensible to run.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("hub already started")
	}
	h.running = true
	h.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	cfgs, err := h.loader.Load(h.opts.GlobalPath, h.opts.ProjectPath)
	if err != nil {
		cancel()
		return err
	}

	h.manager.Start(runCtx)
	if err := h.manager.Reconcile(runCtx, cfgs); err != nil {
		logging.Error("Hub", err, "Failed to persist configuration snapshot")
	}

	h.startConfigWatcher()
	go h.processReloads(runCtx)

	logging.Info("Hub", "Started with %d configured servers", len(cfgs))
	return nil
}

// Stop tears down every connection and all watchers.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	if h.configWatcher != nil {
		h.configWatcher.stop()
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.manager.Stop()
	logging.Info("Hub", "Stopped")
}

// startConfigWatcher watches the configuration files themselves. Only
// files that exist can be watched through their parent directory, but
// the watcher matches by path, so a layer created later inside an
// already-watched directory is still picked up.
func (h *Hub) startConfigWatcher() {
	paths := make([]string, 0, 2)
	for _, p := range []string{h.opts.GlobalPath, h.opts.ProjectPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}

	w, err := newFileWatcher(configWatchLabel, paths, h.opts.Debounce, h.reloadCh)
	if err != nil {
		logging.Error("Hub", err, "Failed to create config watcher")
		return
	}
	if err := w.start(); err != nil {
		// The parent directory of a config layer may not exist yet.
		logging.Warn("Hub", "Config watching disabled: %v", err)
		return
	}
	h.configWatcher = w
}

// processReloads re-reads and re-applies configuration whenever the
// watcher reports a change. A reload that fails to parse keeps the
// previous configuration running.
func (h *Hub) processReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.reloadCh:
			if err := h.Reload(ctx); err != nil {
				logging.Error("Hub", err, "Configuration reload failed, keeping previous configuration")
			}
		}
	}
}

// Reload re-reads both layers and reconciles the connection set.
func (h *Hub) Reload(ctx context.Context) error {
	cfgs, err := h.loader.Load(h.opts.GlobalPath, h.opts.ProjectPath)
	if err != nil {
		return err
	}
	logging.Info("Hub", "Configuration reloaded, reconciling %d servers", len(cfgs))
	return h.manager.Reconcile(ctx, cfgs)
}

// ServerStatus is one row of ListServers.
type ServerStatus struct {
	Name      string               `json:"name"`
	Transport config.TransportType `json:"transport"`
	State     State                `json:"state"`
	// CachedTools is the size of the last known tool list, whether live
	// or stale.
	CachedTools int `json:"cachedTools"`
}

// ListServers reports every configured server with its connection
// state. Disabled servers are absent; they have no connection.
func (h *Hub) ListServers() []ServerStatus {
	names := h.manager.Names()
	out := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		conn := h.manager.Get(name)
		if conn == nil {
			continue
		}
		cfg := conn.Config()
		tools, _, _ := conn.cachedTools()
		out = append(out, ServerStatus{
			Name:        name,
			Transport:   cfg.Transport,
			State:       conn.State(),
			CachedTools: len(tools),
		})
	}
	return out
}

// ListTools lists one server's tools after permission filtering. For a
// disconnected server the last cached list is returned with Stale set.
func (h *Hub) ListTools(ctx context.Context, server string) (ToolListing, error) {
	return h.manager.Tools(ctx, server)
}

// CallTool executes a tool. timeoutOverride, when positive, replaces
// the server's configured per-call budget for this one call.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]interface{}, timeoutOverride time.Duration) (*mcp.CallToolResult, error) {
	return h.manager.CallTool(ctx, server, tool, args, timeoutOverride)
}

// ListResources lists one server's resources; stale is true when the
// result comes from cache because the server is disconnected.
func (h *Hub) ListResources(ctx context.Context, server string) (resources []mcp.Resource, stale bool, err error) {
	return h.manager.Resources(ctx, server)
}

// ReadResource retrieves a resource by URI.
func (h *Hub) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	return h.manager.ReadResource(ctx, server, uri)
}

// RestartServer forces a restart of one connection, subject to the
// same collapsing rules as watcher-triggered restarts.
func (h *Hub) RestartServer(ctx context.Context, server string) error {
	return h.manager.Restart(ctx, server)
}

// DefaultStateDir returns the per-user state directory, honoring
// XDG_STATE_HOME when set.
func DefaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir + "/mcphub"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcphub/state"
	}
	return home + "/.local/state/mcphub"
}
