package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"voxsfu/internal/core/domain"
	apperrors "voxsfu/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is one signaling connection. The read goroutine queues requests
// on inbox and a dispatch goroutine handles them in arrival order, so a
// slow request never stops the connection from noticing it went away. All
// writes go through send.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	inbox   chan []byte
	limiter *rate.Limiter
	opts    Options
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	identity    *domain.Identity
	closed      bool
	closeCode   int
	closeReason string
}

func newClient(id string, conn *websocket.Conn, opts Options, identity *domain.Identity, logger *zap.SugaredLogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	limit := rate.Inf
	if opts.MessagesPerSecond > 0 {
		limit = rate.Limit(opts.MessagesPerSecond)
	}
	return &Client{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, opts.SendBufferSize),
		inbox:    make(chan []byte, opts.SendBufferSize),
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		logger:   logger.With("conn_id", id),
		ctx:      ctx,
		cancel:   cancel,
		identity: identity,
	}
}

func (c *Client) Identity() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return domain.Identity{}, false
	}
	return *c.identity, true
}

// setIdentity binds the connection to a user. A connection never changes
// user once identified.
func (c *Client) setIdentity(id domain.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil && c.identity.UserID != id.UserID {
		return false
	}
	c.identity = &id
	return true
}

// trySend queues a frame. A client that cannot keep up is disconnected.
func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	c.logger.Warnw("send buffer full, closing connection")
	c.closeWith(websocket.ClosePolicyViolation, "send buffer full")
}

func (c *Client) reply(t string, seq *uint64, d interface{}) {
	data, err := json.Marshal(ServerMessage{T: t, Seq: seq, D: d})
	if err != nil {
		c.logger.Errorw("failed to marshal reply", "type", t, "error", err)
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(seq *uint64, op string, appErr *apperrors.AppError) {
	c.reply(TypeError, seq, ErrorPayload{Op: op, Code: string(appErr.Code), Message: appErr.Message})
}

// closeAfterFlush closes the connection once every frame queued so far has
// been written.
func (c *Client) closeAfterFlush(code int, reason string) {
	c.mu.Lock()
	c.closeCode, c.closeReason = code, reason
	c.mu.Unlock()
	c.trySend(nil)
}

func (c *Client) closeWith(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.opts.WriteTimeout))
	c.cancel()
	_ = c.conn.Close()
}

func (c *Client) close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			if data == nil {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				c.closeWith(code, reason)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debugw("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debugw("ping failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// readPump queues every request on inbox and blocks until the connection
// fails or is closed. A client whose requests pile up is disconnected.
func (c *Client) readPump() {
	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Infow("connection closed unexpectedly", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		select {
		case c.inbox <- data:
		default:
			c.logger.Warnw("request queue full, closing connection")
			c.closeWith(websocket.ClosePolicyViolation, "too many pending requests")
			return
		}
	}
}

// dispatchLoop handles queued requests one at a time until the connection
// is closed.
func (c *Client) dispatchLoop(handle func(*Client, []byte)) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.inbox:
			if c.ctx.Err() != nil {
				return
			}
			handle(c, data)
		}
	}
}
