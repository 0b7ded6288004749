package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/store"
	"mcphub/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport implements transport.Transport with scriptable
// behavior. Error fields hold pre-built taxonomy errors so tests
// control exactly what the manager sees.
type fakeTransport struct {
	server string

	mu         sync.Mutex
	connected  bool
	connectErr error

	tools     []mcp.Tool
	resources []mcp.Resource
	listErr   error

	callResult *mcp.CallToolResult
	callErr    error
	callDelay  time.Duration
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	delay := f.callDelay
	callErr := f.callErr
	result := f.callResult
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, transport.Classify(f.server, "callTool", 0, ctx.Err())
		case <-time.After(delay):
		}
	}
	if callErr != nil {
		return nil, callErr
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	return result, nil
}

func (f *fakeTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resources, nil
}

func (f *fakeTransport) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeTransport) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeTransport) setCallError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callErr = err
}

// fakeFactory builds fakeTransports and counts connects per server.
type fakeFactory struct {
	mu           sync.Mutex
	connectCount map[string]int
	connectErrs  map[string]error
	connectDelay time.Duration
	tools        map[string][]mcp.Tool
	last         map[string]*fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		connectCount: make(map[string]int),
		connectErrs:  make(map[string]error),
		tools:        make(map[string][]mcp.Tool),
		last:         make(map[string]*fakeTransport),
	}
}

func (f *fakeFactory) new(cfg config.ServerConfig) (transport.Transport, error) {
	f.mu.Lock()
	f.connectCount[cfg.Name]++
	delay := f.connectDelay
	tr := &fakeTransport{
		server:     cfg.Name,
		connectErr: f.connectErrs[cfg.Name],
		tools:      f.tools[cfg.Name],
	}
	f.last[cfg.Name] = tr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return tr, nil
}

func (f *fakeFactory) connects(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount[name]
}

func (f *fakeFactory) transport(name string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[name]
}

func testTools(names ...string) []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, mcp.Tool{Name: name})
	}
	return tools
}

func newTestManager(t *testing.T, factory *fakeFactory) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), store.New())
	m.SetTransportFactory(factory.new)
	m.SetDebounceWindow(30 * time.Millisecond)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func stdioConfig(name string) config.ServerConfig {
	return config.ServerConfig{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   "fake-server",
	}
}

func TestReconcileAddsRemovesAndSkipsDisabled(t *testing.T) {
	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read", "write")
	m := newTestManager(t, factory)

	disabled := stdioConfig("off")
	disabled.Disabled = true

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{
		"fs":     stdioConfig("fs"),
		"search": stdioConfig("search"),
		"off":    disabled,
	}))

	assert.Equal(t, []string{"fs", "search"}, m.Names())
	assert.Equal(t, StateConnected, m.Get("fs").State())
	assert.Equal(t, StateConnected, m.Get("search").State())
	assert.Nil(t, m.Get("off"))

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{
		"fs": stdioConfig("fs"),
	}))

	assert.Equal(t, []string{"fs"}, m.Names())
	assert.Nil(t, m.Get("search"))
	assert.Equal(t, 1, factory.connects("fs"), "unchanged server must not reconnect")
}

func TestReconcileRestartsOnConnectionParamChange(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))
	require.Equal(t, 1, factory.connects("fs"))

	changed := cfg
	changed.Args = []string{"--root", "/data"}
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": changed}))

	assert.Equal(t, 2, factory.connects("fs"))
	assert.Equal(t, StateConnected, m.Get("fs").State())
	assert.Equal(t, []string{"--root", "/data"}, m.Get("fs").Config().Args)
}

func TestPermissionChangeAppliesWithoutReconnect(t *testing.T) {
	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read", "write")
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))

	updated := cfg
	updated.AlwaysAllow = []string{"read"}
	updated.TimeoutSeconds = 120
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": updated}))

	assert.Equal(t, 1, factory.connects("fs"), "permission change must not restart the connection")

	listing, err := m.Tools(context.Background(), "fs")
	require.NoError(t, err)
	require.Len(t, listing.Tools, 2)
	for _, tool := range listing.Tools {
		if tool.Name == "read" {
			assert.True(t, tool.PreApproved)
		} else {
			assert.False(t, tool.PreApproved)
		}
	}
}

func TestConnectFailureSchedulesBackoffAndHolds(t *testing.T) {
	factory := newFakeFactory()
	factory.connectErrs["fs"] = &transport.ConnectionError{Server: "fs", Err: errors.New("dial refused")}
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	conn := m.Get("fs")
	require.NotNil(t, conn)
	assert.Equal(t, StateDisconnected, conn.State())
	assert.Equal(t, 1, factory.connects("fs"))

	conn.mu.RLock()
	attempt := conn.retryAttempt
	armed := conn.retryTimer != nil
	conn.mu.RUnlock()
	assert.Equal(t, 1, attempt, "first backoff step must be armed")
	assert.True(t, armed)
}

func TestRestartIsolationBetweenServers(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{
		"a": stdioConfig("a"),
		"b": stdioConfig("b"),
	}))

	require.NoError(t, m.Restart(context.Background(), "a"))

	assert.Equal(t, 2, factory.connects("a"))
	assert.Equal(t, 1, factory.connects("b"), "restart of a must not touch b")
	assert.Equal(t, StateConnected, m.Get("b").State())

	_, err := m.CallTool(context.Background(), "b", "anything", nil, 0)
	assert.NoError(t, err)
}

func TestConcurrentRestartsCollapse(t *testing.T) {
	factory := newFakeFactory()
	factory.connectDelay = 50 * time.Millisecond
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))
	initial := factory.connects("fs")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Restart(context.Background(), "fs")
		}()
	}
	wg.Wait()

	restarts := factory.connects("fs") - initial
	assert.GreaterOrEqual(t, restarts, 1)
	assert.LessOrEqual(t, restarts, 2, "burst must collapse to one in-flight plus at most one queued restart")
}

func TestTransportFaultMarksDisconnectedAndServesStaleTools(t *testing.T) {
	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read", "write")
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	// Live listing first.
	listing, err := m.Tools(context.Background(), "fs")
	require.NoError(t, err)
	assert.False(t, listing.Stale)
	require.Len(t, listing.Tools, 2)

	// Server process dies mid-call.
	factory.transport("fs").setCallError(
		&transport.TransportError{Server: "fs", Op: "callTool", Err: errors.New("broken pipe")})

	_, err = m.CallTool(context.Background(), "fs", "read", nil, 0)
	var transportErr *transport.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, StateDisconnected, m.Get("fs").State())

	// Further calls fail fast with a connection error.
	_, err = m.CallTool(context.Background(), "fs", "read", nil, 0)
	var connErr *transport.ConnectionError
	require.ErrorAs(t, err, &connErr)

	// Listings keep working from cache, marked stale.
	listing, err = m.Tools(context.Background(), "fs")
	require.NoError(t, err)
	assert.True(t, listing.Stale)
	assert.Len(t, listing.Tools, 2)
}

func TestToolsUnknownServer(t *testing.T) {
	m := newTestManager(t, newFakeFactory())

	_, err := m.Tools(context.Background(), "ghost")

	var notFound *ServerNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Server)
}

func TestDisconnectedServerWithoutCacheReturnsConnectionError(t *testing.T) {
	factory := newFakeFactory()
	factory.connectErrs["fs"] = &transport.ConnectionError{Server: "fs", Err: errors.New("dial refused")}
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	_, err := m.Tools(context.Background(), "fs")

	var connErr *transport.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestCacheSurvivesManagerRestart(t *testing.T) {
	stateDir := t.TempDir()

	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read")
	first := NewManager(stateDir, store.New())
	first.SetTransportFactory(factory.new)
	first.Start(context.Background())
	require.NoError(t, first.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))
	first.Stop()

	// Fresh manager, same state dir, server now unreachable.
	failing := newFakeFactory()
	failing.connectErrs["fs"] = &transport.ConnectionError{Server: "fs", Err: errors.New("dial refused")}
	second := NewManager(stateDir, store.New())
	second.SetTransportFactory(failing.new)
	second.Start(context.Background())
	defer second.Stop()
	require.NoError(t, second.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	listing, err := second.Tools(context.Background(), "fs")
	require.NoError(t, err)
	assert.True(t, listing.Stale)
	require.Len(t, listing.Tools, 1)
	assert.Equal(t, "read", listing.Tools[0].Name)
}

func TestStartupConnectsInParallel(t *testing.T) {
	factory := newFakeFactory()
	factory.connectDelay = 60 * time.Millisecond
	m := newTestManager(t, factory)

	cfgs := map[string]config.ServerConfig{
		"a": stdioConfig("a"),
		"b": stdioConfig("b"),
		"c": stdioConfig("c"),
		"d": stdioConfig("d"),
		"e": stdioConfig("e"),
	}

	start := time.Now()
	require.NoError(t, m.Reconcile(context.Background(), cfgs))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*60*time.Millisecond, "connects must overlap, not run sequentially")
	for name := range cfgs {
		assert.Equal(t, StateConnected, m.Get(name).State())
	}
}

func TestSnapshotPersistedOnReconcile(t *testing.T) {
	stateDir := t.TempDir()
	m := NewManager(stateDir, store.New())
	m.SetTransportFactory(newFakeFactory().new)
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	var doc snapshotDocument
	require.NoError(t, store.New().ReadJSON(m.snapshotPath(), &doc))
	require.Contains(t, doc.Servers, "fs")
	assert.Equal(t, config.TransportStdio, doc.Servers["fs"].Transport)
}

func TestRestartRequestsFromChannelAreServed(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))
	require.Equal(t, 1, factory.connects("fs"))

	m.restartCh <- "fs"

	require.Eventually(t, func() bool {
		return factory.connects("fs") == 2 && m.Get("fs").State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopClosesAllTransports(t *testing.T) {
	factory := newFakeFactory()
	m := NewManager(t.TempDir(), store.New())
	m.SetTransportFactory(factory.new)
	m.Start(context.Background())

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{
		"a": stdioConfig("a"),
		"b": stdioConfig("b"),
	}))

	trA := factory.transport("a")
	trB := factory.transport("b")
	m.Stop()

	trA.mu.Lock()
	defer trA.mu.Unlock()
	trB.mu.Lock()
	defer trB.mu.Unlock()
	assert.False(t, trA.connected)
	assert.False(t, trB.connected)
	assert.Empty(t, m.Names())
}
