// Package notify sends notification bodies over SMS and email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
)

var (
	// ErrTransient marks a failure a later attempt may fix (outage, timeout, throttling).
	ErrTransient = errors.New("transient dispatch failure")
	// ErrPermanent marks a failure no retry will fix (invalid destination, rejected content).
	ErrPermanent = errors.New("permanent dispatch failure")
)

// Dispatcher sends body to destination over channel. A nil error means the provider
// accepted the message.
type Dispatcher interface {
	Send(ctx context.Context, channel registry.Channel, destination, body string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, channel registry.Channel, destination, body string) error

func (f DispatcherFunc) Send(ctx context.Context, channel registry.Channel, destination, body string) error {
	return f(ctx, channel, destination, body)
}

// Permanent wraps err as ErrPermanent.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Transient wraps err as ErrTransient.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsPermanent reports whether err was marked permanent. Unclassified errors are transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Outcome maps a Send result onto the delivery status it records.
func Outcome(err error) registry.DeliveryStatus {
	switch {
	case err == nil:
		return registry.DeliverySent
	case IsPermanent(err):
		return registry.DeliveryPermanentFailure
	default:
		return registry.DeliveryTransientFailure
	}
}
