package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry is the authoritative mapping from identity to live Session.
// Every mutation happens under mu and signals Changes; nothing blocking
// is ever done while mu is held.
type Registry struct {
	mu         sync.RWMutex
	log        *slog.Logger
	sessions   map[string]*Session // identity ID -> session
	seq        uint64
	closed     bool
	policy     domain.DuplicateLoginPolicy
	bufferSize int
	changes    chan struct{}
}

func NewRegistry(log *slog.Logger, policy domain.DuplicateLoginPolicy, bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Registry{
		log:        log,
		sessions:   make(map[string]*Session),
		policy:     policy,
		bufferSize: bufferSize,
		changes:    make(chan struct{}, 1),
	}
}

// Register installs a new Session for identity.
// Under evict-old an existing session is signaled to close with
// DUPLICATE_LOGIN before the new one is installed, so two logins racing
// for the same identity are serialized here and only the last one stays.
// Under reject-new the existing session is kept and ErrDuplicateLogin returned.
func (r *Registry) Register(identity domain.Identity, conn contract.Conn, publicKey string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ErrRegistryUnavailable
	}
	if old, ok := r.sessions[identity.ID]; ok {
		if r.policy == domain.RejectNew {
			return nil, errors.ErrDuplicateLogin
		}
		old.Evict(domain.CloseDuplicateLogin)
		delete(r.sessions, identity.ID)
		r.log.Info("Session evicted by duplicate login",
			"identity", identity.ID, "session_id", old.ID)
	}

	r.seq++
	session := newSession(identity, conn, publicKey, r.seq, r.bufferSize)
	r.sessions[identity.ID] = session
	r.notify()
	return session, nil
}

// Deregister removes the session of identityID if present.
// Deregistering an absent identity is a no-op.
func (r *Registry) Deregister(identityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[identityID]
	if !ok {
		return false
	}
	session.Evict(domain.CloseKicked)
	delete(r.sessions, identityID)
	r.notify()
	return true
}

// DeregisterSession removes session only if it is still the live one for
// its identity. An evicted connection cleaning up can't remove its replacement.
func (r *Registry) DeregisterSession(session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[session.Identity.ID]
	if !ok || current != session {
		return false
	}
	delete(r.sessions, session.Identity.ID)
	r.notify()
	return true
}

func (r *Registry) Lookup(identityID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[identityID]
	return session, ok
}

// Snapshot lists online identities ordered by connection time.
func (r *Registry) Snapshot() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.ordered(), func(s *Session, _ int) domain.Identity {
		return s.Identity
	})
}

// Sessions lists live sessions ordered by connection time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Changes fires after register or deregister. Bursts collapse into one signal.
func (r *Registry) Changes() <-chan struct{} {
	return r.changes
}

// Publish runs fn with the presence snapshot and the sessions it was taken
// from. No register or deregister can interleave while fn runs, so fn must
// not block.
func (r *Registry) Publish(fn func(users []domain.PresenceEntry, sessions []*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.ordered()
	users := lo.Map(sessions, func(s *Session, _ int) domain.PresenceEntry {
		return s.presenceEntry()
	})
	fn(users, sessions)
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close evicts every session with SHUTDOWN and refuses further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, session := range r.sessions {
		session.Evict(domain.CloseShutdown)
		delete(r.sessions, id)
	}
}

func (r *Registry) ordered() []*Session {
	sessions := lo.Values(r.sessions)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	return sessions
}

func (r *Registry) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}
