package hub

import (
	"context"
	"testing"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallDisabledToolReturnsPermissionError(t *testing.T) {
	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read", "write")
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	cfg.DisabledTools = []string{"write"}
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))

	_, err := m.CallTool(context.Background(), "fs", "write", nil, 0)

	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "fs", permErr.Server)
	assert.Equal(t, "write", permErr.Tool)

	// No I/O happened: the fake never saw the call.
	_, err = m.CallTool(context.Background(), "fs", "read", nil, 0)
	assert.NoError(t, err)
}

func TestCallTimeoutCarriesBudgetAndKeepsSessionUp(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	tr := factory.transport("fs")
	tr.mu.Lock()
	tr.callDelay = 500 * time.Millisecond
	tr.mu.Unlock()

	start := time.Now()
	_, err := m.CallTool(context.Background(), "fs", "slow", nil, 50*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *transport.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Budget)
	assert.Less(t, elapsed, 400*time.Millisecond, "timeout must cancel the in-flight call")

	// Timeouts are recoverable: the session stays connected.
	assert.Equal(t, StateConnected, m.Get("fs").State())
}

func TestCallTimeoutUsesConfiguredBudget(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	cfg.TimeoutSeconds = 1
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))

	tr := factory.transport("fs")
	tr.mu.Lock()
	tr.callDelay = 3 * time.Second
	tr.mu.Unlock()

	_, err := m.CallTool(context.Background(), "fs", "slow", nil, 0)

	var timeoutErr *transport.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, time.Second, timeoutErr.Budget)
}

func TestCancelledCallLeavesStateUntouched(t *testing.T) {
	factory := newFakeFactory()
	factory.tools["fs"] = testTools("read")
	m := newTestManager(t, factory)

	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": stdioConfig("fs")}))

	before, err := m.Tools(context.Background(), "fs")
	require.NoError(t, err)

	tr := factory.transport("fs")
	tr.mu.Lock()
	tr.callDelay = time.Second
	tr.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.CallTool(ctx, "fs", "read", nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation is caller-driven: no disconnect, no cache change.
	assert.Equal(t, StateConnected, m.Get("fs").State())
	after, _, ok := m.Get("fs").cachedTools()
	require.True(t, ok)
	assert.Equal(t, len(before.Tools), len(after))
}

func TestCallUnknownServer(t *testing.T) {
	m := newTestManager(t, newFakeFactory())

	_, err := m.CallTool(context.Background(), "ghost", "read", nil, 0)

	var notFound *ServerNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestReadResourceTimeout(t *testing.T) {
	factory := newFakeFactory()
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))

	_, err := m.ReadResource(context.Background(), "fs", "file:///tmp/a.txt")
	assert.NoError(t, err)

	_, err = m.ReadResource(context.Background(), "ghost", "file:///tmp/a.txt")
	var notFound *ServerNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
