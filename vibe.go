package vibium

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vibium/vibium-go/bidi"
	"github.com/vibium/vibium-go/clicker"
	"go.uber.org/zap"
)

// Vibe is one browser automation session: a protocol client plus, when this
// library launched it, the clicker process behind it.
type Vibe struct {
	log    *zap.SugaredLogger
	client *bidi.Client
	proc   *clicker.Process

	ctxMu     sync.Mutex
	browsing  string
	closed    chan struct{}
	closeOnce sync.Once
}

func newVibe(log *zap.SugaredLogger, client *bidi.Client, proc *clicker.Process) *Vibe {
	v := &Vibe{
		log:    log,
		client: client,
		proc:   proc,
		closed: make(chan struct{}),
	}
	if proc != nil {
		go v.watchCrash()
	}
	return v
}

// watchCrash fails every in-flight command with a CrashedError if the daemon
// dies while the session is open.
func (v *Vibe) watchCrash() {
	select {
	case <-v.closed:
	case <-v.proc.Done():
		select {
		case <-v.closed:
			return
		default:
		}
		crash := v.proc.CrashError()
		v.log.Warnw("clicker process exited unexpectedly", "ExitCode", crash.ExitCode)
		v.client.Abort(crash)
	}
}

// Client exposes the protocol client for commands this facade doesn't wrap.
func (v *Vibe) Client() *bidi.Client {
	return v.client
}

// IsConnected reports whether the session's connection is still open.
func (v *Vibe) IsConnected() bool {
	return v.client.IsConnected()
}

// Go navigates to url and waits for the load to complete.
func (v *Vibe) Go(ctx context.Context, url string) error {
	bc, err := v.browsingContext(ctx)
	if err != nil {
		return err
	}
	v.log.Debugw("navigating", "URL", url)
	_, err = v.client.Send(ctx, "browsingContext.navigate", map[string]any{
		"context": bc,
		"url":     url,
		"wait":    "complete",
	})
	return err
}

// Screenshot captures the current page as PNG bytes.
func (v *Vibe) Screenshot(ctx context.Context) ([]byte, error) {
	bc, err := v.browsingContext(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := v.client.Send(ctx, "browsingContext.captureScreenshot", map[string]any{
		"context": bc,
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parsing screenshot result: %w", err)
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// Evaluate runs script in the page and returns its value, or nil for
// undefined/null results.
func (v *Vibe) Evaluate(ctx context.Context, script string) (any, error) {
	bc, err := v.browsingContext(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := v.client.Send(ctx, "script.callFunction", map[string]any{
		"functionDeclaration": "() => { " + script + " }",
		"target":              map[string]any{"context": bc},
		"arguments":           []any{},
		"awaitPromise":        true,
		"resultOwnership":     "root",
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parsing script result: %w", err)
	}
	if res.Result.Type == "undefined" || res.Result.Type == "null" || res.Result.Value == nil {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(res.Result.Value, &value); err != nil {
		return nil, fmt.Errorf("parsing script value: %w", err)
	}
	return value, nil
}

// Events routes unsolicited server events to handler.
func (v *Vibe) Events(handler bidi.EventHandler) {
	v.client.OnEvent(handler)
}

// Close shuts the session down: the protocol client first, then the process.
// Safe to call more than once, and safe even if launch only partially
// succeeded.
func (v *Vibe) Close() error {
	v.closeOnce.Do(func() {
		close(v.closed)
		v.client.Close()
		if v.proc != nil {
			v.proc.Stop()
		}
	})
	return nil
}

// browsingContext returns the session's top-level browsing context id,
// fetching it on first use.
func (v *Vibe) browsingContext(ctx context.Context) (string, error) {
	v.ctxMu.Lock()
	defer v.ctxMu.Unlock()
	if v.browsing != "" {
		return v.browsing, nil
	}
	raw, err := v.client.Send(ctx, "browsingContext.getTree", map[string]any{})
	if err != nil {
		return "", err
	}
	var tree struct {
		Contexts []struct {
			Context string `json:"context"`
		} `json:"contexts"`
	}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("parsing context tree: %w", err)
	}
	if len(tree.Contexts) == 0 {
		return "", fmt.Errorf("no browsing contexts available")
	}
	v.browsing = tree.Contexts[0].Context
	return v.browsing, nil
}
