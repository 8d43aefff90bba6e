package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the live binding between an Identity and its connection.
// It is created and owned by the Registry; the connection handler only
// keeps a reference to drain its queues.
type Session struct {
	ID          uuid.UUID
	Identity    domain.Identity
	PublicKey   string
	ConnectedAt time.Time

	seq      uint64
	conn     contract.Conn
	outbound chan domain.OutboundFrame

	// Latest presence snapshot not yet written; older ones are overwritten.
	presenceMu    sync.Mutex
	presence      []domain.PresenceEntry
	presenceReady chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	reason    string
}

func newSession(identity domain.Identity, conn contract.Conn, publicKey string, seq uint64, bufferSize int) *Session {
	return &Session{
		ID:            uuid.New(),
		Identity:      identity,
		PublicKey:     publicKey,
		ConnectedAt:   time.Now().UTC(),
		seq:           seq,
		conn:          conn,
		outbound:      make(chan domain.OutboundFrame, bufferSize),
		presenceReady: make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

func (s *Session) Conn() contract.Conn {
	return s.conn
}

func (s *Session) presenceEntry() domain.PresenceEntry {
	return domain.PresenceEntry{
		ID:          s.Identity.ID,
		DisplayName: s.Identity.DisplayName,
		PublicKey:   s.PublicKey,
	}
}

// Deliver queues a frame for the connection writer. It waits for room in
// the queue until ctx ends, which is reported as ErrOutboundFull.
func (s *Session) Deliver(ctx context.Context, frame domain.OutboundFrame) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", errors.ErrOutboundFull, s.Identity.ID)
	}
}

func (s *Session) Outbound() <-chan domain.OutboundFrame {
	return s.outbound
}

// OfferPresence replaces the pending snapshot. Never blocks.
func (s *Session) OfferPresence(users []domain.PresenceEntry) {
	s.presenceMu.Lock()
	s.presence = users
	s.presenceMu.Unlock()
	select {
	case s.presenceReady <- struct{}{}:
	default:
	}
}

// PresenceReady fires when a snapshot is waiting to be taken.
func (s *Session) PresenceReady() <-chan struct{} {
	return s.presenceReady
}

// TakePresence returns the pending snapshot and clears it.
func (s *Session) TakePresence() ([]domain.PresenceEntry, bool) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	users := s.presence
	s.presence = nil
	return users, users != nil
}

// Evict signals the connection to close. The first reason wins and the
// call reports whether it was the one that closed the session.
func (s *Session) Evict(reason string) bool {
	evicted := false
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
		evicted = true
	})
	return evicted
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason is the eviction reason, empty while the session is live.
func (s *Session) Reason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}
