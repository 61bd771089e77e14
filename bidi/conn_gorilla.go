package bidi

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// gorillaConn is the gorilla/websocket-backed Conn variant. gorilla permits
// only one concurrent writer, hence the write mutex.
type gorillaConn struct {
	log       *zap.SugaredLogger
	conn      *websocket.Conn
	onMessage MessageHandler
	onClose   func(err error)

	writeMu   sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
}

func dialGorilla(ctx context.Context, url string, onMessage MessageHandler, cfg *dialConfig) (Conn, error) {
	cfg.log.Debugw("dialing (gorilla)", "URL", url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	conn.SetReadLimit(connReadLimit)

	c := &gorillaConn{
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

func (c *gorillaConn) readLoop() {
	for {
		_, b, err := c.conn.ReadMessage()
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

func (c *gorillaConn) Send(ctx context.Context, text string) error {
	if c.IsClosed() {
		return &ClosedError{}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// The deadline sticks to the conn, so a context without one must clear
	// any deadline left behind by an earlier send.
	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *gorillaConn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosing)
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		if err := c.conn.Close(); err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
		c.state.Store(stateClosed)
	})
	return nil
}

func (c *gorillaConn) IsClosed() bool {
	return c.state.Load() >= stateClosing
}
