package notify

import (
	"context"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"go.uber.org/zap"
)

// Router picks a Dispatcher per channel. Channels without a configured sender go to
// the fallback.
type Router struct {
	senders  map[registry.Channel]Dispatcher
	fallback Dispatcher
}

func NewRouter(fallback Dispatcher) *Router {
	return &Router{senders: map[registry.Channel]Dispatcher{}, fallback: fallback}
}

// Handle registers d for channel, replacing any earlier sender.
func (r *Router) Handle(channel registry.Channel, d Dispatcher) *Router {
	r.senders[channel] = d
	return r
}

func (r *Router) Send(ctx context.Context, channel registry.Channel, destination, body string) error {
	if d, ok := r.senders[channel]; ok {
		return d.Send(ctx, channel, destination, body)
	}
	return r.fallback.Send(ctx, channel, destination, body)
}

// LogSender only logs. It stands in for unconfigured transports in development.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, channel registry.Channel, destination, body string) error {
	s.Logger.Info("Notification (log only)",
		zap.String("channel", string(channel)),
		zap.String("destination", destination),
		zap.String("body", body))
	return nil
}
