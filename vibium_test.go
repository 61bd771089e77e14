package vibium

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibium/vibium-go/bidi"
	"github.com/vibium/vibium-go/clicker"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakeCommand struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// fakeDaemon is a stand-in for the clicker daemon: an in-process BiDi server
// plus a shell script that announces the server's port the way the real
// binary does.
type fakeDaemon struct {
	port   int
	script string

	mu       sync.Mutex
	received []string
}

// newFakeDaemon starts the server; handle==nil installs a minimal default
// that answers getTree, navigate, and captureScreenshot.
func newFakeDaemon(t *testing.T, handle func(ctx context.Context, c *websocket.Conn, cmd fakeCommand)) *fakeDaemon {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake daemon requires a shell")
	}

	d := &fakeDaemon{}
	if handle == nil {
		handle = d.defaultHandle
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			var cmd fakeCommand
			if err := wsjson.Read(ctx, c, &cmd); err != nil {
				return
			}
			d.mu.Lock()
			d.received = append(d.received, cmd.Method)
			d.mu.Unlock()
			go handle(ctx, c, cmd)
		}
	}))
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	d.port, err = strconv.Atoi(portStr)
	require.NoError(t, err)

	d.script = filepath.Join(t.TempDir(), "clicker")
	body := fmt.Sprintf("#!/bin/sh\necho \"Server listening on ws://localhost:%d\"\nsleep 60\n", d.port)
	require.NoError(t, os.WriteFile(d.script, []byte(body), 0755))
	return d
}

func (d *fakeDaemon) defaultHandle(ctx context.Context, c *websocket.Conn, cmd fakeCommand) {
	switch cmd.Method {
	case "browsingContext.getTree":
		d.respond(ctx, c, cmd.ID, map[string]any{"contexts": []map[string]any{{"context": "ctx-1"}}})
	case "browsingContext.navigate":
		d.respond(ctx, c, cmd.ID, map[string]any{"navigation": "nav-1", "url": cmd.Params["url"]})
	case "browsingContext.captureScreenshot":
		d.respond(ctx, c, cmd.ID, map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("png-bytes"))})
	default:
		wsjson.Write(ctx, c, map[string]any{"id": cmd.ID, "type": "error", "error": "unknown command", "message": cmd.Method})
	}
}

func (d *fakeDaemon) respond(ctx context.Context, c *websocket.Conn, id int64, result map[string]any) {
	wsjson.Write(ctx, c, map[string]any{"id": id, "type": "success", "result": result})
}

func (d *fakeDaemon) methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func launchFake(t *testing.T, d *fakeDaemon, opts ...LaunchOption) *Vibe {
	t.Helper()
	opts = append([]LaunchOption{
		WithExecutablePath(d.script),
		WithStartTimeout(5 * time.Second),
	}, opts...)
	vibe, err := Launch(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { vibe.Close() })
	return vibe
}

func TestLaunchNavigateScreenshot(t *testing.T) {
	d := newFakeDaemon(t, nil)
	vibe := launchFake(t, d)

	require.True(t, vibe.IsConnected())
	require.Equal(t, d.port, vibe.proc.Port())

	require.NoError(t, vibe.Go(context.Background(), "https://example.com"))

	png, err := vibe.Screenshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), png)

	require.Contains(t, d.methods(), "browsingContext.navigate")

	require.NoError(t, vibe.Close())
	require.False(t, vibe.IsConnected())
	require.False(t, vibe.proc.IsRunning())
	require.NoError(t, vibe.Close())
}

func TestLaunchConnectFailureStopsProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a shell")
	}
	baseline := clicker.ActiveCount()

	// The script announces a port nothing is listening on.
	script := filepath.Join(t.TempDir(), "clicker")
	body := "#!/bin/sh\necho \"Server listening on ws://localhost:1\"\nsleep 60\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Launch(ctx, WithExecutablePath(script), WithStartTimeout(5*time.Second))
	var connErr *bidi.ConnectionError
	require.ErrorAs(t, err, &connErr)

	// The failed launch must not leak the subprocess.
	require.Equal(t, baseline, clicker.ActiveCount())
}

func TestCrashFailsPendingCommands(t *testing.T) {
	d := newFakeDaemon(t, func(ctx context.Context, c *websocket.Conn, cmd fakeCommand) {
		// Never respond; commands stay pending until the crash.
	})
	vibe := launchFake(t, d)

	const k = 3
	errCh := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := vibe.Client().SendTimeout(context.Background(), "hang.op", nil, 30*time.Second)
			errCh <- err
		}()
	}

	// Give the commands time to go out, then kill the daemon underneath the
	// session.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, vibe.proc.Stop())

	for i := 0; i < k; i++ {
		select {
		case err := <-errCh:
			var crashErr *clicker.CrashedError
			require.ErrorAs(t, err, &crashErr)
		case <-time.After(5 * time.Second):
			t.Fatal("pending command not failed after crash")
		}
	}
}

func TestEventsReachHandler(t *testing.T) {
	d := newFakeDaemon(t, func(ctx context.Context, c *websocket.Conn, cmd fakeCommand) {
		wsjson.Write(ctx, c, map[string]any{"method": "browsingContext.load", "params": map[string]any{"url": "https://example.com"}})
		wsjson.Write(ctx, c, map[string]any{"id": cmd.ID, "type": "success", "result": map[string]any{"contexts": []map[string]any{{"context": "ctx-1"}}}})
	})
	vibe := launchFake(t, d)

	events := make(chan bidi.Event, 1)
	vibe.Events(func(ev bidi.Event) { events <- ev })

	require.NoError(t, vibe.Go(context.Background(), "https://example.com"))

	select {
	case ev := <-events:
		require.Equal(t, "browsingContext.load", ev.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}
