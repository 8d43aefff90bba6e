package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConnectionHandler drives one accepted connection through
// CONNECTING → AUTHENTICATING → ONLINE → CLOSING → CLOSED.
type ConnectionHandler struct {
	log             *slog.Logger
	registry        *Registry
	router          *Router
	identities      contract.IIdentityStore
	stats           *observability.Stats
	authTimeout     time.Duration
	deliveryTimeout time.Duration
}

func NewConnectionHandler(log *slog.Logger, registry *Registry, router *Router,
	identities contract.IIdentityStore, stats *observability.Stats,
	authTimeout, deliveryTimeout time.Duration) *ConnectionHandler {
	return &ConnectionHandler{
		log:             log,
		registry:        registry,
		router:          router,
		identities:      identities,
		stats:           stats,
		authTimeout:     authTimeout,
		deliveryTimeout: deliveryTimeout,
	}
}

// connection is the per-connection state. Transitions only move forward.
type connection struct {
	conn  contract.Conn
	log   *slog.Logger
	state atomic.Int32
}

func (c *connection) transition(to domain.ConnectionState) {
	from := domain.ConnectionState(c.state.Load())
	if to <= from {
		return
	}
	c.state.Store(int32(to))
	c.log.Debug("Connection state changed", "from", from.String(), "to", to.String())
}

// Serve blocks until the connection is CLOSED. It returns the error that
// ended an unsuccessful authentication or a transport failure, nil otherwise.
func (h *ConnectionHandler) Serve(ctx context.Context, conn contract.Conn) error {
	h.stats.IncrConnections()
	c := &connection{conn: conn, log: h.log.With("remote", conn.RemoteAddr())}
	c.transition(domain.StateConnecting)
	defer c.transition(domain.StateClosed)

	c.transition(domain.StateAuthenticating)
	session, closeReason, err := h.authenticate(ctx, c)
	if err != nil {
		c.transition(domain.StateClosing)
		_ = conn.Close(closeReason)
		return err
	}

	c.log = c.log.With("identity", session.Identity.ID, "session_id", session.ID)
	c.transition(domain.StateOnline)
	c.log.Info("Session online")

	err = h.online(ctx, c, session)

	// CLOSING: the session may already be evicted, DeregisterSession only
	// removes it if it is still the live one
	h.registry.DeregisterSession(session)
	c.log.Info("Session closed", "reason", session.Reason())
	return err
}

// authenticate waits for the LOGIN frame and registers the session.
// On failure it returns the close reason to send with the close notice.
func (h *ConnectionHandler) authenticate(ctx context.Context, c *connection) (*Session, string, error) {
	authCtx, cancel := context.WithTimeout(ctx, h.authTimeout)
	defer cancel()

	data, err := c.conn.Receive(authCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, domain.CloseShutdown, err
		case authCtx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
			h.reject(ctx, c, errors.ReasonAuthTimeout, errors.ErrAuthTimeout.Error())
			return nil, domain.CloseAuthTimeout, errors.ErrAuthTimeout
		default:
			return nil, domain.CloseTransport, err
		}
	}

	frame, err := domain.DecodeInbound(data)
	if err != nil || !frame.IsLogin() {
		h.reject(ctx, c, errors.ReasonInvalidCredentials, "expected a LOGIN frame")
		return nil, domain.CloseAuthFail, errors.ErrInvalidCredentials
	}

	identity, err := h.identities.Authenticate(ctx, frame.Username, frame.CredentialProof)
	if err != nil {
		c.log.Info("Authentication failed", "username", frame.Username, "error", err)
		h.reject(ctx, c, errors.Reason(err), "authentication failed")
		return nil, domain.CloseAuthFail, err
	}

	token, err := h.identities.IssueToken(identity)
	if err != nil {
		h.reject(ctx, c, errors.ReasonUnavailable, "could not issue a session token")
		return nil, domain.CloseAuthFail, err
	}

	session, err := h.registry.Register(identity, c.conn, frame.PublicKey)
	if err != nil {
		h.reject(ctx, c, errors.Reason(err), err.Error())
		if errors.Is(err, errors.ErrRegistryUnavailable) {
			return nil, domain.CloseShutdown, err
		}
		return nil, domain.CloseAuthFail, err
	}

	// AUTH_OK goes out before the writer starts so it is the first frame
	if err := h.send(ctx, c.conn, domain.NewAuthOKFrame(identity, token)); err != nil {
		h.registry.DeregisterSession(session)
		session.Evict(domain.CloseTransport)
		return nil, domain.CloseTransport, err
	}
	return session, "", nil
}

func (h *ConnectionHandler) reject(ctx context.Context, c *connection, reason, message string) {
	h.stats.IncrAuthFailures()
	if err := h.send(ctx, c.conn, domain.NewAuthFailFrame(reason, message)); err != nil {
		c.log.Debug("Failed to send AUTH_FAIL", "error", err)
	}
}

// online runs the writer and the close watcher next to the read loop and
// waits for both once the read loop has returned.
func (h *ConnectionHandler) online(ctx context.Context, c *connection, session *Session) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		logout atomic.Bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := h.writeLoop(connCtx, session); err != nil {
			c.log.Debug("Writer stopped", "error", err)
		}
		cancel()
	}()
	go func() {
		defer wg.Done()
		select {
		case <-session.Done():
		case <-connCtx.Done():
		}
		c.transition(domain.StateClosing)
		reason := h.closeReason(ctx, session, &logout)
		// Outbound frames still queued are dropped from here on
		session.Evict(reason)
		if session.Reason() == domain.CloseDuplicateLogin {
			h.stats.IncrEvictions()
		}
		_ = c.conn.Close(session.Reason())
	}()

	err := h.readLoop(connCtx, c, session, &logout)
	cancel()
	wg.Wait()
	return err
}

func (h *ConnectionHandler) closeReason(ctx context.Context, session *Session, logout *atomic.Bool) string {
	switch {
	case session.Reason() != "":
		return session.Reason()
	case logout.Load():
		return domain.CloseLogout
	case ctx.Err() != nil:
		return domain.CloseShutdown
	default:
		return domain.CloseTransport
	}
}

func (h *ConnectionHandler) readLoop(ctx context.Context, c *connection, session *Session, logout *atomic.Bool) error {
	for {
		data, err := c.conn.Receive(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-session.Done():
				return nil
			default:
				return fmt.Errorf("receive: %w", err)
			}
		}

		frame, err := domain.DecodeInbound(data)
		if err != nil {
			h.stats.IncrMalformed()
			c.log.Debug("Malformed frame", "error", err)
			h.answer(ctx, c, session, domain.NewDeliverFailFrame(errors.ReasonMalformedEnvelope, "", ""))
			continue
		}
		if frame.IsLogout() {
			logout.Store(true)
			return nil
		}

		env := domain.Envelope{
			ID:        uuid.New(),
			Type:      domain.MessageType(frame.Type),
			Sender:    session.Identity,
			Recipient: frame.Recipient,
			Payload:   frame.Payload,
			Timestamp: time.Now().UTC(),
		}
		if err := h.router.Route(ctx, session, env); err != nil {
			c.log.Debug("Envelope refused", "type", frame.Type, "recipient", frame.Recipient, "error", err)
			h.answer(ctx, c, session, domain.NewDeliverFailFrame(errors.Reason(err), frame.Type, frame.Recipient))
		}
	}
}

// answer queues a frame for the sender itself, behind what it already has
// pending, so a DELIVER_FAIL keeps its place in the stream.
func (h *ConnectionHandler) answer(ctx context.Context, c *connection, session *Session, frame domain.OutboundFrame) {
	deliverCtx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
	defer cancel()
	if err := session.Deliver(deliverCtx, frame); err != nil {
		c.log.Debug("Failed to answer sender", "type", frame.Type, "error", err)
	}
}

func (h *ConnectionHandler) writeLoop(ctx context.Context, session *Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return nil
		case frame := <-session.Outbound():
			if err := h.send(ctx, session.Conn(), frame); err != nil {
				return err
			}
		case <-session.PresenceReady():
			users, ok := session.TakePresence()
			if !ok {
				continue
			}
			if err := h.send(ctx, session.Conn(), domain.NewPresenceFrame(users)); err != nil {
				return err
			}
		}
	}
}

func (h *ConnectionHandler) send(ctx context.Context, conn contract.Conn, frame domain.OutboundFrame) error {
	data, err := domain.EncodeOutbound(frame)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}
