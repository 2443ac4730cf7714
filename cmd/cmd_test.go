package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/agent"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/mocks"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/observability"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/uihub"
)

const stateDoc = `{
  "connectionStatus": "connected",
  "connectionData": {"status": "connected", "attempt": 0, "url": "ws://localhost:8765/browser", "updatedAt": "2026-01-02T03:04:05Z"},
  "taskQueue": [
    {"id": "c-2", "type": "click", "status": "failed", "startedAt": "2026-01-02T03:04:05Z", "durationMs": 12, "error": "Element not found: #missing"},
    {"id": "c-1", "type": "type_text", "status": "success", "startedAt": "2026-01-02T03:04:04Z", "durationMs": 40}
  ],
  "lastUpdated": 1767323045000
}`

// executeCommand runs a fresh command tree with quiet logging redirected to a temp file.
func executeCommand(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	quietLogging(t)
	return runRoot(ctx, args...)
}

func quietLogging(t *testing.T) {
	t.Helper()
	t.Setenv("BASSET_LOGGER_LOG_FILE", filepath.Join(t.TempDir(), "agent.log"))
	t.Setenv("BASSET_LOGGER_LEVEL", "error")
	observability.ResetForTest()
}

func runRoot(ctx context.Context, args ...string) (string, error) {
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(context.Background(), t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = executeCommand(context.Background(), t, "version")
	require.NoError(t, err)
	assert.Equal(t, "basset-agent "+Version+"\n", out)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Setenv("BASSET_SESSION_URL", "http://localhost:8765")
	_, err := executeCommand(context.Background(), t, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
	assert.Contains(t, err.Error(), "url scheme must be ws or wss")

	_, err = executeCommand(context.Background(), t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestStatus(t *testing.T) {
	state := writeTemp(t, "state.json", stateDoc)

	t.Run("EnvOverride", func(t *testing.T) {
		t.Setenv("BASSET_STORAGE_PATH", state)
		out, err := executeCommand(context.Background(), t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Connection:   connected\n")
		assert.Contains(t, out, "Controller:   ws://localhost:8765/browser\n")
		assert.Contains(t, out, "Tasks:        2 (0 running, 1 succeeded, 1 failed, 0 timed out)\n")
		assert.Contains(t, out, "12ms  Element not found: #missing")
		assert.Contains(t, out, "c-1")
	})

	t.Run("ConfigFileAndLimit", func(t *testing.T) {
		cfgFile := writeTemp(t, "config.yaml", "storage:\n  driver: file\n  path: "+state+"\n")
		out, err := executeCommand(context.Background(), t, "--config", cfgFile, "status", "--limit", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "c-2")
		assert.NotContains(t, out, "c-1 ")
	})

	t.Run("JSON", func(t *testing.T) {
		t.Setenv("BASSET_STORAGE_PATH", state)
		out, err := executeCommand(context.Background(), t, "status", "--json")
		require.NoError(t, err)

		var report statusReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "connected", string(report.Status))
		require.NotNil(t, report.Connection)
		assert.Equal(t, "ws://localhost:8765/browser", report.Connection.URL)
		require.Len(t, report.Tasks, 2)
		assert.Equal(t, "c-2", report.Tasks[0].ID)
		assert.Equal(t, int64(1767323045000), report.LastUpdated)
	})

	t.Run("MissingFile", func(t *testing.T) {
		t.Setenv("BASSET_STORAGE_PATH", filepath.Join(t.TempDir(), "none.json"))
		_, err := executeCommand(context.Background(), t, "status")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read agent state")
	})

	t.Run("MemoryDriver", func(t *testing.T) {
		t.Setenv("BASSET_STORAGE_DRIVER", "memory")
		_, err := executeCommand(context.Background(), t, "status")
		assert.EqualError(t, err, "status is unavailable with the memory storage driver")
	})
}

func TestLogs(t *testing.T) {
	logFile := writeTemp(t, "agent.log", strings.Join([]string{
		`{"level":"info","ts":"2026-01-02T03:04:05.000Z","logger":"basset-agent.agent","msg":"Agent stopped."}`,
		`{"level":"warn","ts":"2026-01-02T03:04:06.000Z","logger":"basset-agent.agent","msg":"Dropping response.","command_id":"c-1"}`,
		`not json`,
	}, "\n")+"\n")

	out, err := executeCommand(context.Background(), t, "logs", "--file", logFile)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"2026-01-02T03:04:05.000Z INFO basset-agent.agent: Agent stopped.",
		`2026-01-02T03:04:06.000Z WARN basset-agent.agent: Dropping response. command_id="c-1"`,
		"not json",
	}, "\n")+"\n", out)

	out, err = executeCommand(context.Background(), t, "logs", "--file", logFile, "--level", "warn")
	require.NoError(t, err)
	assert.Equal(t, `2026-01-02T03:04:06.000Z WARN basset-agent.agent: Dropping response. command_id="c-1"`+"\n", out)

	out, err = executeCommand(context.Background(), t, "logs", "--file", logFile, "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, `"msg":"Agent stopped."`)

	_, err = executeCommand(context.Background(), t, "logs", "--file", filepath.Join(t.TempDir(), "none.log"))
	require.Error(t, err)
}

type stubBrowser struct {
	mocks.MockBrowser

	mu       sync.Mutex
	shutdown bool
}

func (b *stubBrowser) Page(context.Context, string) (dom.Page, error) {
	return nil, errors.New("no pages")
}

func (b *stubBrowser) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
	return nil
}

func (b *stubBrowser) wasShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown
}

func TestRunUntilCancelled(t *testing.T) {
	stub := &stubBrowser{}
	started := make(chan config.BrowserConfig, 1)
	orig := newBrowser
	newBrowser = func(_ context.Context, cfg config.BrowserConfig, _ *zap.Logger) (agent.Browser, error) {
		started <- cfg
		return stub, nil
	}
	t.Cleanup(func() { newBrowser = orig })
	t.Setenv("BASSET_STORAGE_DRIVER", "memory")
	t.Setenv("BASSET_BROWSER_HEADLESS", "false")
	quietLogging(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := runRoot(ctx, "run", "--no-connect", "--ui-addr", "")
		done <- err
	}()

	select {
	case cfg := <-started:
		assert.False(t, cfg.Headless)
	case <-time.After(5 * time.Second):
		t.Fatal("browser was never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.True(t, stub.wasShutdown())
}

func TestRunRejectsBadURL(t *testing.T) {
	_, err := executeCommand(context.Background(), t, "run", "--url", "http://localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --url")
}

// syncBuffer is written by the watcher goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatusWatch(t *testing.T) {
	hub := uihub.New(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Publish(schemas.EventConnectionState, schemas.ConnectionState{Status: schemas.StatusReconnecting, Attempt: 2, LastError: "connection refused"})

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- watchStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"), out) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "connection reconnecting attempt=2 error=connection refused")
	}, 5*time.Second, 10*time.Millisecond)

	hub.Publish(schemas.EventTaskQueue, []schemas.Task{
		{ID: "c-2", Type: schemas.CommandClick, Status: schemas.TaskRunning},
		{ID: "c-1", Type: schemas.CommandTypeText, Status: schemas.TaskSuccess},
	})
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "tasks 2 (1 active) latest=c-2 click running")
	}, 5*time.Second, 10*time.Millisecond)

	hub.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after the hub closed")
	}
	assert.Contains(t, out.String(), "Agent closed the status stream.")
}

func TestStatusWatchNeedsListenAddr(t *testing.T) {
	_, err := executeCommand(context.Background(), t, "status", "--watch", "--config", writeTemp(t, "config.yaml", "ui:\n  listen_addr: \"\"\n"))
	assert.EqualError(t, err, "--watch needs ui.listen_addr to be set")
}

// hubController records the session requests the connect and disconnect commands deliver.
type hubController struct {
	mu       sync.Mutex
	requests []string
	refuse   error
}

func (c *hubController) Connect(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, "connect "+url)
	return c.refuse
}

func (c *hubController) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, "disconnect")
	return nil
}

func TestConnectAndDisconnect(t *testing.T) {
	hub := uihub.New(zap.NewNop())
	ctrl := &hubController{}
	hub.SetController(ctrl)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	// A snapshot is waiting for every new client and must be skipped.
	hub.Publish(schemas.EventConnectionState, schemas.ConnectionState{Status: schemas.StatusDisconnected, LastError: "gave up"})

	t.Setenv("BASSET_UI_LISTEN_ADDR", strings.TrimPrefix(srv.URL, "http://"))

	out, err := executeCommand(context.Background(), t, "connect", "--url", "ws://controller:9000/browser")
	require.NoError(t, err)
	assert.Equal(t, "Agent accepted the connect request.\n", out)

	out, err = executeCommand(context.Background(), t, "disconnect")
	require.NoError(t, err)
	assert.Equal(t, "Agent accepted the disconnect request.\n", out)

	ctrl.mu.Lock()
	ctrl.refuse = errors.New("session already active")
	ctrl.mu.Unlock()
	_, err = executeCommand(context.Background(), t, "connect")
	assert.EqualError(t, err, "agent refused the connect request: session already active")

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.Equal(t, []string{"connect ws://controller:9000/browser", "disconnect", "connect "}, ctrl.requests)
}
