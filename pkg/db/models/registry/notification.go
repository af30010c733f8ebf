package registry

import (
	"time"

	"github.com/paul-bdio/zorro/pkg/profile"
)

const (
	CachedProfilesTableName = "cached_profiles"
	NotificationsTableName  = "notifications"
	DeliveriesTableName     = "notification_deliveries"
)

// Notification is a dedup record: proof that one ledger event has been claimed.
// Rows are append-only and unique on (event_type, profile_id, event_timestamp).
type Notification struct {
	ID             string            `json:"id"`
	EventType      profile.EventType `json:"eventType"`
	ProfileID      uint64            `json:"profileId"`
	EventTimestamp time.Time         `json:"eventTimestamp"`
	Body           string            `json:"body"`
	CreatedAt      time.Time         `json:"createdAt"`

	Deliveries []Delivery `json:"deliveries,omitempty"`
}

// Key returns the natural key the row is unique on.
func (n Notification) Key() profile.NaturalKey {
	return profile.Transition{Type: n.EventType, ProfileID: n.ProfileID, EventTimestamp: n.EventTimestamp}.Key()
}
