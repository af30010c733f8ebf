package db

import (
	"context"
	"errors"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/profile"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleCache is returned by UpsertCachedProfile when the row changed since it was read.
	ErrStaleCache = errors.New("cached profile changed since read")
)

// ProfileStore holds the local mirror of ledger profiles.
type ProfileStore interface {
	GetCachedProfile(ctx context.Context, profileID uint64) (*profile.Cached, error)
	// UpsertCachedProfile writes p if the stored version still equals p.Version (zero
	// meaning no row exists). On success p.Version is advanced to the stored version.
	UpsertCachedProfile(ctx context.Context, p *profile.Cached) error
	ListCachedProfiles(ctx context.Context, afterID uint64, limit int) ([]profile.Cached, error)
}

// NotificationStore holds dedup records and their deliveries.
type NotificationStore interface {
	// ClaimNotification inserts n and its deliveries in one transaction unless a
	// notification with the same natural key exists. Deliveries are stored already leased
	// to the caller. inserted is false when the event was claimed before.
	ClaimNotification(ctx context.Context, n registry.Notification, deliveries []registry.Delivery) (inserted bool, err error)
	// ClaimPendingDeliveries leases deliveries that were claimed but never confirmed
	// sent. Deliveries out of attempts are marked permanently failed instead.
	ClaimPendingDeliveries(ctx context.Context, q registry.RedeliveryQuery) ([]registry.Delivery, error)
	RecordDeliveryOutcome(ctx context.Context, outcome registry.DeliveryOutcome) error
	ListNotifications(ctx context.Context, profileID uint64) ([]registry.Notification, error)
}

// DirectoryStore holds contact and connection data maintained outside the sync engine.
type DirectoryStore interface {
	ContactsForAddress(ctx context.Context, address string) ([]registry.Contact, error)
	PutContact(ctx context.Context, c registry.Contact) error
	PutConnection(ctx context.Context, c registry.Connection) error
	// VerifiedExternalAddresses returns the subset of addresses connected for purpose to
	// a verified cached profile. Addresses are compared lowercase.
	VerifiedExternalAddresses(ctx context.Context, purpose string, addresses []string) ([]string, error)
}

// AnomalyStore records conditions surfaced for operator attention.
type AnomalyStore interface {
	RecordAnomaly(ctx context.Context, a registry.Anomaly) error
	ListAnomalies(ctx context.Context, profileID uint64, limit int) ([]registry.Anomaly, error)
}

// Store is the full persistence surface implemented by each backend.
type Store interface {
	ProfileStore
	NotificationStore
	DirectoryStore
	AnomalyStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
