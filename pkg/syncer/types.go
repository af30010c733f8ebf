// Package syncer reconciles ledger profiles with the local cache and dispatches each
// newly observed lifecycle event at most once.
package syncer

import (
	"errors"
	"time"

	"github.com/paul-bdio/zorro/pkg/codec"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/lifecycle"
	"github.com/paul-bdio/zorro/pkg/profile"
	"github.com/paul-bdio/zorro/pkg/utils"
)

var (
	// ErrLedgerUnavailable is transient: the whole pass may be retried.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrMalformedRecord is not retryable without operator intervention.
	ErrMalformedRecord = codec.ErrMalformedRecord
	// ErrRegressionObserved is surfaced as an anomaly and not retried.
	ErrRegressionObserved = lifecycle.ErrRegressionObserved
)

// Config tunes the engine. Zero fields take the defaults of ConfigFromEnv.
type Config struct {
	// SendTimeout bounds one dispatcher call.
	SendTimeout time.Duration
	// LeaseDuration is how long a claimed delivery is reserved for the claiming pass.
	// It must exceed SendTimeout or a slow send may be duplicated by a concurrent pass.
	LeaseDuration time.Duration
	// MaxAttempts caps sends per delivery before it becomes a permanent failure.
	MaxAttempts int
	// CASRetries bounds how often a pass restarts after losing the cache race.
	CASRetries int
	// RedeliveryBatch bounds deliveries leased per redelivery step.
	RedeliveryBatch int
}

// ConfigFromEnv reads NOTIFY_SEND_TIMEOUT, NOTIFY_LEASE, NOTIFY_MAX_ATTEMPTS,
// SYNC_CAS_RETRIES and NOTIFY_REDELIVERY_BATCH.
func ConfigFromEnv() Config {
	return Config{
		SendTimeout:     utils.EnvDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
		LeaseDuration:   utils.EnvDuration("NOTIFY_LEASE", 2*time.Minute),
		MaxAttempts:     utils.EnvInt("NOTIFY_MAX_ATTEMPTS", 5),
		CASRetries:      utils.EnvInt("SYNC_CAS_RETRIES", 3),
		RedeliveryBatch: utils.EnvInt("NOTIFY_REDELIVERY_BATCH", 100),
	}
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.LeaseDuration <= c.SendTimeout {
		c.LeaseDuration = 2*c.SendTimeout + time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.CASRetries <= 0 {
		c.CASRetries = 3
	}
	if c.RedeliveryBatch <= 0 {
		c.RedeliveryBatch = 100
	}
	return c
}

// DeliveryFailure describes one send that did not succeed during a pass.
type DeliveryFailure struct {
	DeliveryID  string                  `json:"deliveryId"`
	Channel     registry.Channel        `json:"channel"`
	Destination string                  `json:"destination"`
	Status      registry.DeliveryStatus `json:"status"`
	Error       string                  `json:"error"`
}

// SyncResult summarizes one pass for a profile.
type SyncResult struct {
	ProfileID   uint64               `json:"profileId"`
	Status      profile.Status       `json:"status"`
	Verified    bool                 `json:"verified"`
	Transitions []profile.Transition `json:"transitions"`

	// Claimed counts transitions whose dedup record this pass created; Duplicates those
	// another pass had already claimed.
	Claimed    int `json:"claimed"`
	Duplicates int `json:"duplicates"`

	Sent              int `json:"sent"`
	TransientFailures int `json:"transientFailures"`
	PermanentFailures int `json:"permanentFailures"`
	// Redelivered counts sends of deliveries claimed by an earlier pass.
	Redelivered int `json:"redelivered"`

	Failures     []DeliveryFailure  `json:"failures,omitempty"`
	Anomalies    []registry.Anomaly `json:"anomalies,omitempty"`
	CacheUpdated bool               `json:"cacheUpdated"`
	Attempts     int                `json:"attempts"`
}

// NeedsRedelivery reports whether a send failed in a way a later attempt may fix.
func (r *SyncResult) NeedsRedelivery() bool {
	return r != nil && r.TransientFailures > 0
}
