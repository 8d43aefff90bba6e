package runtime

import (
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
)

// PresenceBroadcaster pushes the full ordered presence list to every online
// session whenever the registry changes. Changes arriving while a push is
// in progress collapse into a single follow-up push.
type PresenceBroadcaster struct {
	log      *slog.Logger
	registry *Registry
	stats    *observability.Stats
}

func NewPresenceBroadcaster(log *slog.Logger, registry *Registry, stats *observability.Stats) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log, registry: registry, stats: stats}
}

func (p *PresenceBroadcaster) Run(ctx context.Context) error {
	p.log.Info("Starting presence broadcaster")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.registry.Changes():
			p.Push()
		}
	}
}

// Push offers the current snapshot to every session. It runs under the
// registry lock, so a snapshot never misses a completed register or
// deregister and never contains a removed identity.
func (p *PresenceBroadcaster) Push() {
	p.registry.Publish(func(users []domain.PresenceEntry, sessions []*Session) {
		for _, s := range sessions {
			s.OfferPresence(users)
		}
		p.stats.AddPresencePushes(len(sessions))
		p.log.Debug("Presence pushed", "online", len(users))
	})
}
