package bidi

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Incoming messages can carry screenshots, so the read limit is generous.
const connReadLimit = 64 << 20

// MessageHandler receives every incoming text message, called from the
// connection's reader goroutine.
type MessageHandler func(msg []byte)

// Conn is a duplex text channel to the clicker daemon.
type Conn interface {
	// Send transmits one text message. It fails with a ClosedError once the
	// connection is closed.
	Send(ctx context.Context, text string) error

	// Close tears the connection down. It is idempotent.
	Close() error

	// IsClosed reports whether the connection has been closed, deliberately
	// or by transport failure.
	IsClosed() bool
}

// Connection lifecycle. A connection that fails before reaching open is
// terminally closed and the Dial call itself returns the error.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

type dialConfig struct {
	log     *zap.SugaredLogger
	onClose func(err error)
	gorilla bool
}

type DialOption func(c *dialConfig)

func WithConnLogger(l *zap.SugaredLogger) DialOption {
	return func(c *dialConfig) {
		c.log = l.Named("conn")
	}
}

// WithCloseHandler registers a callback invoked exactly once when the reader
// terminates. The error is nil for a deliberate close, otherwise the
// transport failure.
func WithCloseHandler(f func(err error)) DialOption {
	return func(c *dialConfig) {
		c.onClose = f
	}
}

// WithGorillaTransport selects the gorilla/websocket-backed transport instead
// of the default one.
func WithGorillaTransport() DialOption {
	return func(c *dialConfig) {
		c.gorilla = true
	}
}

// Dial opens a connection to url. onMessage is attached before the transport
// delivers anything, so no early message can be dropped; it must not be nil.
// A failure to establish the transport returns a ConnectionError wrapping the
// cause.
func Dial(ctx context.Context, url string, onMessage MessageHandler, opts ...DialOption) (Conn, error) {
	cfg := &dialConfig{
		log: zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.gorilla {
		return dialGorilla(ctx, url, onMessage, cfg)
	}
	return dial(ctx, url, onMessage, cfg)
}

type wsConn struct {
	log       *zap.SugaredLogger
	conn      *websocket.Conn
	onMessage MessageHandler
	onClose   func(err error)

	state     atomic.Int32
	closeOnce sync.Once
}

func dial(ctx context.Context, url string, onMessage MessageHandler, cfg *dialConfig) (Conn, error) {
	cfg.log.Debugw("dialing", "URL", url)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	conn.SetReadLimit(connReadLimit)

	c := &wsConn{
		log:       cfg.log,
		conn:      conn,
		onMessage: onMessage,
		onClose:   cfg.onClose,
	}
	c.state.Store(stateOpen)
	go c.readLoop()
	cfg.log.Debugw("connection open", "URL", url)
	return c, nil
}

func (c *wsConn) readLoop() {
	for {
		_, b, err := c.conn.Read(context.Background())
		if err != nil {
			deliberate := c.state.Load() >= stateClosing
			c.state.Store(stateClosed)
			if deliberate {
				err = nil
			} else {
				c.log.Debugf("reader terminated: %s", err)
			}
			if c.onClose != nil {
				c.onClose(err)
			}
			return
		}
		c.onMessage(b)
	}
}

func (c *wsConn) Send(ctx context.Context, text string) error {
	if c.IsClosed() {
		return &ClosedError{}
	}
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosing)
		err := c.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
		c.state.Store(stateClosed)
	})
	return nil
}

func (c *wsConn) IsClosed() bool {
	return c.state.Load() >= stateClosing
}
