package registry

import "time"

const (
	ContactsTableName    = "profile_contacts"
	ConnectionsTableName = "connections"
	AnomaliesTableName   = "sync_anomalies"
)

// Contact is a destination registered by a profile owner, keyed by owner address.
type Contact struct {
	Address     string    `json:"address"`
	Channel     Channel   `json:"channel"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Connection links an external address (for a given purpose) to a profile.
type Connection struct {
	PurposeIdentifier string    `json:"purposeIdentifier"`
	ExternalAddress   string    `json:"externalAddress"`
	ProfileID         uint64    `json:"profileId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Anomaly kinds.
const (
	AnomalyRegression      = "regression_observed"
	AnomalyMalformedRecord = "malformed_record"
)

// Anomaly is a condition that needs operator attention. Anomalies are never retried.
type Anomaly struct {
	ID         int64     `json:"id"`
	ProfileID  uint64    `json:"profileId"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	ObservedAt time.Time `json:"observedAt"`
}
