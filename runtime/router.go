package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Router validates envelopes and hands them to the sessions they target.
// It keeps no state and only reads the registry per dispatch.
type Router struct {
	log             *slog.Logger
	registry        *Registry
	stats           *observability.Stats
	deliveryTimeout time.Duration
}

func NewRouter(log *slog.Logger, registry *Registry, stats *observability.Stats, deliveryTimeout time.Duration) *Router {
	return &Router{
		log:             log,
		registry:        registry,
		stats:           stats,
		deliveryTimeout: deliveryTimeout,
	}
}

// Validate checks the tagged union before any routing happens.
func Validate(env domain.Envelope) error {
	if !env.Type.IsRoutable() {
		return fmt.Errorf("%w: unknown type %q", errors.ErrMalformedEnvelope, env.Type)
	}
	if err := validate.Struct(env); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err)
	}
	switch {
	case env.Type.IsDirect() && !env.HasRecipient():
		return fmt.Errorf("%w: %s requires a recipient", errors.ErrMalformedEnvelope, env.Type)
	case env.Type.IsDirect() && env.Recipient == domain.PublicRecipient:
		return fmt.Errorf("%w: %q is not an identity, use %s",
			errors.ErrMalformedEnvelope, domain.PublicRecipient, domain.MessageBroadcast)
	case env.Type == domain.MessageBroadcast && env.HasRecipient():
		return fmt.Errorf("%w: %s takes no recipient", errors.ErrMalformedEnvelope, env.Type)
	}
	return nil
}

// Route dispatches env on behalf of sender. The returned error is the
// synchronous answer for the sender: ErrMalformedEnvelope or
// ErrRecipientOffline for direct types. Broadcast never fails per recipient.
func (r *Router) Route(ctx context.Context, sender *Session, env domain.Envelope) error {
	if err := Validate(env); err != nil {
		r.stats.IncrMalformed()
		return err
	}
	if env.Type == domain.MessageBroadcast {
		r.broadcast(ctx, sender, env)
		return nil
	}
	return r.direct(ctx, sender, env)
}

func (r *Router) direct(ctx context.Context, sender *Session, env domain.Envelope) error {
	recipient, ok := r.registry.Lookup(env.Recipient)
	if !ok {
		r.stats.IncrDeliveryFailures()
		return fmt.Errorf("%w: %s", errors.ErrRecipientOffline, env.Recipient)
	}
	if err := r.deliver(ctx, recipient, domain.NewDeliverFrame(env)); err != nil {
		r.stats.IncrDeliveryFailures()
		r.log.Debug("Direct delivery failed",
			"sender", sender.Identity.ID, "recipient", env.Recipient, "type", env.Type, "error", err)
		return fmt.Errorf("%w: %v", errors.ErrRecipientOffline, err)
	}
	r.stats.IncrRouted()
	return nil
}

// broadcast delivers the same frame to every online session, sender
// included. A failing recipient is logged and skipped.
func (r *Router) broadcast(ctx context.Context, sender *Session, env domain.Envelope) {
	frame := domain.NewDeliverFrame(env)
	delivered := 0
	for _, recipient := range r.registry.Sessions() {
		if err := r.deliver(ctx, recipient, frame); err != nil {
			r.stats.IncrDeliveryFailures()
			r.log.Warn("Broadcast delivery failed",
				"sender", sender.Identity.ID, "recipient", recipient.Identity.ID, "error", err)
			continue
		}
		delivered++
	}
	r.stats.IncrRouted()
	r.log.Debug("Broadcast routed", "sender", sender.Identity.ID, "delivered", delivered)
}

func (r *Router) deliver(ctx context.Context, recipient *Session, frame domain.OutboundFrame) error {
	ctx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	defer cancel()
	return recipient.Deliver(ctx, frame)
}
