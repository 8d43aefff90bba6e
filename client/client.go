// Package client is a Go client for the chat relay websocket protocol.
package client

import (
	"chat-relay/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gorilla "github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("client is not connected")

// AuthError is an AUTH_FAIL answer from the relay.
type AuthError struct {
	Reason  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication refused: %s (%s)", e.Reason, e.Message)
}

type Config struct {
	URL               string
	Username          string
	Password          string
	PublicKey         string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
}

type result struct {
	frame domain.OutboundFrame
	err   error
}

// Client holds one relay connection at a time. Frames of every connection
// it opened are read from the same Receive stream.
type Client struct {
	log    *slog.Logger
	config Config
	dialer *gorilla.Dialer

	mu       sync.Mutex
	conn     *gorilla.Conn
	released chan struct{}
	identity domain.Identity
	token    string
	writeMu  sync.Mutex

	results chan result
	readers sync.WaitGroup
}

func New(log *slog.Logger, config Config) *Client {
	dialer := *gorilla.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	return &Client{
		log:     log,
		config:  config,
		dialer:  &dialer,
		results: make(chan result, 256),
	}
}

// Connect dials the relay and logs in with the configured password.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, c.config.Password)
}

func (c *Client) connect(ctx context.Context, proof string) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err := c.login(conn, proof); err != nil {
		_ = conn.Close()
		return err
	}

	released := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.released = released
	c.mu.Unlock()
	c.readers.Add(1)
	go c.readLoop(conn, released)
	return nil
}

func (c *Client) login(conn *gorilla.Conn, proof string) error {
	data, err := domain.EncodeInbound(domain.InboundFrame{
		Type:            string(domain.FrameLogin),
		Username:        c.config.Username,
		CredentialProof: proof,
		PublicKey:       c.config.PublicKey,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(gorilla.TextMessage, data); err != nil {
		return fmt.Errorf("send login failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, data, err = conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read login response failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := domain.DecodeOutbound(data)
	if err != nil {
		return err
	}
	switch domain.FrameType(frame.Type) {
	case domain.FrameAuthOK:
		c.mu.Lock()
		if frame.Identity != nil {
			c.identity = *frame.Identity
		}
		c.token = frame.Token
		c.mu.Unlock()
		c.log.Info("Logged in", "identity", c.identity.ID)
		return nil
	case domain.FrameAuthFail:
		return &AuthError{Reason: frame.Reason, Message: frame.Message}
	default:
		return fmt.Errorf("unexpected frame %s before AUTH_OK", frame.Type)
	}
}

// readLoop forwards the frames of one connection. Once the connection is
// released it stops as soon as the Receive buffer is full.
func (c *Client) readLoop(conn *gorilla.Conn, released <-chan struct{}) {
	defer c.readers.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.forward(result{err: err}, released)
			return
		}
		frame, err := domain.DecodeOutbound(data)
		if err != nil {
			c.log.Warn("Undecodable frame from relay", "error", err)
			continue
		}
		if !c.forward(result{frame: frame}, released) {
			return
		}
	}
}

// forward queues r while there is room, and only blocks for a live connection.
func (c *Client) forward(r result, released <-chan struct{}) bool {
	select {
	case c.results <- r:
		return true
	default:
	}
	select {
	case c.results <- r:
		return true
	case <-released:
		return false
	}
}

// Receive returns the next frame pushed by the relay. When a connection
// ends, its close error is returned once; see CloseReason.
func (c *Client) Receive(ctx context.Context) (domain.OutboundFrame, error) {
	select {
	case r := <-c.results:
		return r.frame, r.err
	case <-ctx.Done():
		return domain.OutboundFrame{}, ctx.Err()
	}
}

// Reconnect drops the current connection and dials again with exponential
// backoff, resuming with the session token. An expired token falls back
// to the password.
func (c *Client) Reconnect(ctx context.Context) error {
	c.drop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxReconnectTries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		proof := c.Token()
		if proof == "" {
			proof = c.config.Password
		}
		err := c.connect(ctx, proof)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			if proof != c.config.Password && c.config.Password != "" {
				err = c.connect(ctx, c.config.Password)
			}
			if errors.As(err, &authErr) {
				return backoff.Permanent(err)
			}
		}
		if err != nil {
			c.log.Debug("Reconnect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)
}

func (c *Client) SendPrivate(to string, payload any) error {
	return c.sendEnvelope(domain.MessagePrivate, to, payload)
}

func (c *Client) Broadcast(payload any) error {
	return c.sendEnvelope(domain.MessageBroadcast, "", payload)
}

// SendFileSignal sends one step of the file transfer handshake.
// The metadata is opaque to the relay.
func (c *Client) SendFileSignal(signal domain.MessageType, to string, metadata any) error {
	if !signal.IsFileSignal() {
		return fmt.Errorf("%s is not a file signal", signal)
	}
	return c.sendEnvelope(signal, to, metadata)
}

func (c *Client) Logout() error {
	return c.send(domain.InboundFrame{Type: string(domain.FrameLogout)})
}

func (c *Client) sendEnvelope(t domain.MessageType, to string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return c.send(domain.InboundFrame{Type: string(t), Recipient: to, Payload: raw})
}

func (c *Client) send(frame domain.InboundFrame) error {
	data, err := domain.EncodeInbound(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteMessage(gorilla.TextMessage, data)
}

func (c *Client) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	conn := c.release()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), time.Now().Add(c.config.WriteTimeout))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) drop() {
	if conn := c.release(); conn != nil {
		_ = conn.Close()
	}
}

// release detaches the current connection and lets its reader give up.
func (c *Client) release() *gorilla.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.conn
	c.conn = nil
	if c.released != nil {
		close(c.released)
		c.released = nil
	}
	return conn
}

// CloseReason extracts the relay close reason (DUPLICATE_LOGIN, LOGOUT...)
// from a Receive error. Empty if the connection did not end with a notice.
func CloseReason(err error) string {
	var closeErr *gorilla.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Text
	}
	return ""
}
