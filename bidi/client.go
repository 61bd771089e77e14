package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCommandTimeout applies to Send; SendTimeout takes an explicit one.
const DefaultCommandTimeout = 30 * time.Second

// EventHandler receives unsolicited server events.
type EventHandler func(ev Event)

type callResult struct {
	result json.RawMessage
	err    error
}

// Client multiplexes commands over one Conn. A command's pending slot is
// fulfilled exactly once, by whichever of matching response, timeout, or
// shutdown happens first: all three arbitrate by removing the slot from the
// pending table, so the remover wins.
type Client struct {
	log            *zap.SugaredLogger
	conn           Conn
	defaultTimeout time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan callResult
	closed  bool

	eventMu      sync.RWMutex
	eventHandler EventHandler

	// Late and unmatched responses are dropped with a diagnostic; the
	// limiter keeps a misbehaving server from flooding the log.
	strayLimit *rate.Limiter

	closeOnce sync.Once
}

type ClientOption func(c *clientConfig)

type clientConfig struct {
	log            *zap.SugaredLogger
	defaultTimeout time.Duration
	dialOpts       []DialOption
}

func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *clientConfig) {
		c.log = l.Named("bidi_client")
	}
}

// WithDefaultTimeout changes the timeout Send applies to each command.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.defaultTimeout = d
	}
}

// WithDialOptions passes options through to the underlying Dial.
func WithDialOptions(opts ...DialOption) ClientOption {
	return func(c *clientConfig) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// Connect dials url and returns a ready protocol client. The message handler
// is bound as part of the dial, so messages arriving immediately after the
// handshake are not lost.
func Connect(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		log:            zap.NewNop().Sugar(),
		defaultTimeout: DefaultCommandTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	c := &Client{
		log:            cfg.log,
		defaultTimeout: cfg.defaultTimeout,
		pending:        map[int64]chan callResult{},
		strayLimit:     rate.NewLimiter(rate.Every(time.Second), 5),
	}

	dialOpts := append([]DialOption{WithCloseHandler(c.connClosed)}, cfg.dialOpts...)
	conn, err := Dial(ctx, url, c.handleMessage, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	cfg.log.Debugw("connected", "URL", url)
	return c, nil
}

// IsConnected reports whether the underlying connection is still open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && !c.conn.IsClosed()
}

// OnEvent sets the single sink for server events. Events are dispatched off
// the reader goroutine, so a slow handler never stalls command processing.
func (c *Client) OnEvent(handler EventHandler) {
	c.eventMu.Lock()
	c.eventHandler = handler
	c.eventMu.Unlock()
}

// Send issues a command and waits for its response with the default timeout.
func (c *Client) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	return c.SendTimeout(ctx, method, params, c.defaultTimeout)
}

// SendTimeout issues a command and waits for the response with the matching
// id. On timeout the pending slot is released and a TimeoutError returned;
// the remote side may still process the command, and its late response is
// discarded. Concurrent commands complete independently, in whatever order
// the server answers.
func (c *Client) SendTimeout(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &ClosedError{}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	b, err := json.Marshal(Command{ID: id, Method: method, Params: params})
	if err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("encoding %s command: %w", method, err)
	}

	c.log.Debugw("sending command", "Method", method, "ID", id)
	if err := c.conn.Send(ctx, string(b)); err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("sending %s command: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		if c.takePending(id) == nil {
			// The reader removed the slot first; its result is en route.
			res := <-ch
			return res.result, res.err
		}
		return nil, &TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		if c.takePending(id) == nil {
			res := <-ch
			return res.result, res.err
		}
		return nil, ctx.Err()
	}
}

// Close fails every outstanding command with a ClosedError and closes the
// connection. A second call is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.failAll(&ClosedError{})
		c.conn.Close()
	})
	return nil
}

// Abort fails every outstanding command with cause and closes the
// connection. It is the teardown path for external failures, e.g. the clicker
// process crashing while commands are in flight.
func (c *Client) Abort(cause error) {
	c.failAll(cause)
	if c.conn != nil {
		c.conn.Close()
	}
}

// connClosed runs once when the reader terminates. A deliberate close has
// already failed the pendings; a transport failure fails them here.
func (c *Client) connClosed(err error) {
	if err == nil {
		return
	}
	c.log.Debugf("connection lost: %s", err)
	c.failAll(&ConnectionError{Err: err})
}

func (c *Client) failAll(cause error) {
	c.mu.Lock()
	c.closed = true
	chans := make([]chan callResult, 0, len(c.pending))
	for id, ch := range c.pending {
		chans = append(chans, ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, ch := range chans {
		ch <- callResult{err: cause}
	}
}

// takePending removes and returns the pending slot for id, or nil if some
// other writer already claimed it.
func (c *Client) takePending(id int64) chan callResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// handleMessage runs on the connection's reader goroutine.
func (c *Client) handleMessage(msg []byte) {
	var m message
	if err := json.Unmarshal(msg, &m); err != nil {
		c.log.Warnf("failed to parse message: %s", err)
		return
	}
	switch {
	case m.ID != nil:
		c.handleResponse(&m)
	case m.Method != "":
		c.handleEvent(&m)
	default:
		c.log.Warnf("unknown message shape: %s", msg)
	}
}

func (c *Client) handleResponse(m *message) {
	ch := c.takePending(*m.ID)
	if ch == nil {
		if c.strayLimit.Allow() {
			c.log.Warnw("discarding response for unknown command", "ID", *m.ID)
		}
		return
	}

	if m.Type == "error" {
		code := m.Error
		if code == "" {
			code = "unknown error"
		}
		ch <- callResult{err: &ProtocolError{Code: code, Message: m.Message, Stacktrace: m.Stacktrace}}
		return
	}

	result := m.Result
	if result == nil {
		result = json.RawMessage("{}")
	}
	ch <- callResult{result: result}
}

func (c *Client) handleEvent(m *message) {
	c.eventMu.RLock()
	handler := c.eventHandler
	c.eventMu.RUnlock()

	c.log.Debugw("received event", "Method", m.Method)
	if handler != nil {
		go handler(Event{Method: m.Method, Params: m.Params})
	}
}
