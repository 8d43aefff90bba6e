package main

import (
	"chat-relay/domain"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// presenceView keeps the last presence list pushed by the relay.
type presenceView struct {
	mu    sync.Mutex
	users []domain.PresenceEntry
}

func (p *presenceView) set(users []domain.PresenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = users
}

func (p *presenceView) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := lo.Map(p.users, func(u domain.PresenceEntry, _ int) string {
		return fmt.Sprintf("%s (%s)", u.DisplayName, u.ID)
	})
	return fmt.Sprintf("online [%d]: %s", len(names), strings.Join(names, ", "))
}
