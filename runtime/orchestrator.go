// Package runtime holds the live state of the relay: the session registry,
// the message router, the per-connection handler and the presence broadcaster.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Options struct {
	Policy             domain.DuplicateLoginPolicy
	OutboundBufferSize int
	AuthTimeout        time.Duration
	DeliveryTimeout    time.Duration
}

// Orchestrator assembles the relay components around one registry and
// owns the supervised background workers.
type Orchestrator struct {
	mu          sync.Mutex
	log         *slog.Logger
	supervisor  contract.ISupervisor
	registry    *Registry
	router      *Router
	handler     *ConnectionHandler
	broadcaster *PresenceBroadcaster
	stats       *observability.Stats
	started     bool
	running     atomic.Bool
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	identities contract.IIdentityStore, stats *observability.Stats, options Options) *Orchestrator {
	registry := NewRegistry(log, options.Policy, options.OutboundBufferSize)
	stats.WithOnline(registry.Count)
	router := NewRouter(log, registry, stats, options.DeliveryTimeout)
	return &Orchestrator{
		log:         log,
		supervisor:  supervisor,
		registry:    registry,
		router:      router,
		handler:     NewConnectionHandler(log, registry, router, identities, stats, options.AuthTimeout, options.DeliveryTimeout),
		broadcaster: NewPresenceBroadcaster(log, registry, stats),
		stats:       stats,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

func (o *Orchestrator) Handler() contract.IConnectionHandler { return o.handler }

// Start registers the presence broadcaster and the stats sampler with the
// supervisor and blocks until they stop. A second call returns at once.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.supervisor.Add(o.broadcaster, o.stats)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	o.running.Store(true)
	defer o.running.Store(false)
	o.supervisor.Run(ctx)
	return nil
}

// Healthy is true while the supervised workers run and the registry
// still accepts logins.
func (o *Orchestrator) Healthy() bool {
	return o.running.Load() && !o.registry.Closed()
}

// Stop evicts every online session with SHUTDOWN, refuses new logins
// and stops the supervised workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown", "online", o.registry.Count())
	o.registry.Close()
	o.supervisor.Stop()
}
