package websocket

import (
	"chat-relay/domain"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
)

// Application close codes, in the private range of RFC 6455.
const (
	CloseDuplicateLogin = 4001
	CloseAuthFail       = 4002
	CloseAuthTimeout    = 4003
	CloseKicked         = 4004
)

var ErrClosed = errors.New("websocket connection closed")

// CloseCode maps a relay close reason onto a websocket close code.
func CloseCode(reason string) int {
	switch reason {
	case domain.CloseDuplicateLogin:
		return CloseDuplicateLogin
	case domain.CloseAuthFail:
		return CloseAuthFail
	case domain.CloseAuthTimeout:
		return CloseAuthTimeout
	case domain.CloseKicked:
		return CloseKicked
	case domain.CloseShutdown:
		return gorilla.CloseGoingAway
	case domain.CloseTransport:
		return gorilla.CloseInternalServerErr
	default:
		return gorilla.CloseNormalClosure
	}
}

type ConnConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration // 0 disables keepalive
	ReadLimit    int64
}

// Conn adapts a gorilla websocket to contract.Conn.
// One goroutine reads, writes are serialized, Close may come from anywhere.
type Conn struct {
	log     *slog.Logger
	ws      *gorilla.Conn
	remote  string
	config  ConnConfig
	writeMu sync.Mutex

	// Deadline of the context of the pending Receive, unix nanos, 0 if none.
	readCap atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn(log *slog.Logger, ws *gorilla.Conn, remote string, config ConnConfig) *Conn {
	c := &Conn{
		log:    log,
		ws:     ws,
		remote: remote,
		config: config,
		closed: make(chan struct{}),
	}
	if config.ReadLimit > 0 {
		ws.SetReadLimit(config.ReadLimit)
	}
	if config.PingInterval > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(c.readDeadline())
		})
		go c.pingLoop()
	}
	return c
}

func (c *Conn) pongWait() time.Duration {
	return 2 * c.config.PingInterval
}

// readDeadline is the keepalive deadline, shortened to the caller's
// context deadline when there is one.
func (c *Conn) readDeadline() time.Time {
	var deadline time.Time
	if c.config.PingInterval > 0 {
		deadline = time.Now().Add(c.pongWait())
	}
	if capNanos := c.readCap.Load(); capNanos > 0 {
		limit := time.Unix(0, capNanos)
		if deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		c.readCap.Store(d.UnixNano())
	} else {
		c.readCap.Store(0)
	}
	if err := c.ws.SetReadDeadline(c.readDeadline()); err != nil {
		return nil, err
	}
	// A canceled context unblocks the pending read
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
		if messageType != gorilla.TextMessage && messageType != gorilla.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(gorilla.TextMessage, data)
}

// Close sends the close notice carrying reason and releases the socket.
// Only the first call has an effect.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		message := gorilla.FormatCloseMessage(CloseCode(reason), reason)
		if werr := c.ws.WriteControl(gorilla.CloseMessage, message, time.Now().Add(c.config.WriteTimeout)); werr != nil {
			c.log.Debug("Close notice not delivered", "remote", c.remote, "error", werr)
		}
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(gorilla.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.log.Debug("Ping failed", "remote", c.remote, "error", err)
				return
			}
		}
	}
}
