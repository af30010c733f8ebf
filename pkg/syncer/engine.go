package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paul-bdio/zorro/pkg/codec"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/lifecycle"
	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/notify"
	"github.com/paul-bdio/zorro/pkg/profile"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Publisher receives a summary after every pass that wrote the cache.
type Publisher interface {
	PublishProfileUpdate(ctx context.Context, update redis.ProfileUpdate)
}

// Deps are the collaborators of an Engine. Publisher is optional.
type Deps struct {
	Ledger     ledger.Reader
	Decoder    *codec.Decoder
	Store      db.Store
	Dispatcher notify.Dispatcher
	Templates  notify.Templates
	Recipients notify.Recipients
	Publisher  Publisher
	Logger     *zap.Logger
	Config     Config
}

// Engine runs sync passes. It holds no state between passes beyond the per-profile
// locks; everything durable lives in the store.
type Engine struct {
	ledger     ledger.Reader
	decoder    *codec.Decoder
	store      db.Store
	dispatcher notify.Dispatcher
	templates  notify.Templates
	recipients notify.Recipients
	publisher  Publisher
	logger     *zap.Logger
	config     Config

	locks *xsync.Map[uint64, chan struct{}]
	now   func() time.Time
	newID func() string
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder := deps.Decoder
	if decoder == nil {
		decoder = codec.NewDecoder(time.Millisecond)
	}
	templates := deps.Templates
	if templates == nil {
		templates = notify.DefaultTemplates()
	}
	return &Engine{
		ledger:     deps.Ledger,
		decoder:    decoder,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		templates:  templates,
		recipients: deps.Recipients,
		publisher:  deps.Publisher,
		logger:     logger,
		config:     deps.Config.withDefaults(),
		locks:      xsync.NewMap[uint64, chan struct{}](),
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:      uuid.NewString,
	}
}

// lock serializes passes for one profile within this process. It gives up when ctx ends.
func (e *Engine) lock(ctx context.Context, profileID uint64) (func(), error) {
	ch, _ := e.locks.LoadOrStore(profileID, make(chan struct{}, 1))
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SyncProfile runs one reconciliation pass for profileID.
//
// The pass reads the ledger, decodes the record, derives transitions against the cached
// row, resends deliveries earlier passes left unconfirmed, claims and sends each new
// transition, and finally compare-and-swaps the cache. Losing the cache race restarts
// the pass from the ledger read; claims already made stay claimed.
func (e *Engine) SyncProfile(ctx context.Context, profileID uint64) (*SyncResult, error) {
	start := time.Now()
	logger := e.logger.With(zap.Uint64("profile_id", profileID))

	unlock, err := e.lock(ctx, profileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &SyncResult{ProfileID: profileID}
	redelivered := false
	for {
		res.Attempts++
		err = e.pass(ctx, res, &redelivered, logger)
		if !errors.Is(err, db.ErrStaleCache) || res.Attempts > e.config.CASRetries {
			break
		}
		logger.Debug("Cached profile changed during pass, restarting", zap.Int("attempt", res.Attempts))
	}

	metrics.SyncPassDuration.Observe(time.Since(start).Seconds())
	metrics.SyncPassesTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		logger.Warn("Profile sync failed", zap.Int("attempts", res.Attempts), zap.Error(err))
		return res, err
	}

	if res.CacheUpdated && e.publisher != nil {
		keys := make([]string, 0, len(res.Transitions))
		for _, tr := range res.Transitions {
			keys = append(keys, tr.Key().String())
		}
		e.publisher.PublishProfileUpdate(ctx, redis.ProfileUpdate{
			ProfileID:   profileID,
			Status:      res.Status.String(),
			Verified:    res.Verified,
			Transitions: keys,
			SyncedAt:    e.now(),
		})
	}

	logger.Info("Profile synced",
		zap.Stringer("status", res.Status),
		zap.Int("transitions", len(res.Transitions)),
		zap.Int("claimed", res.Claimed),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("sent", res.Sent),
		zap.Int("transient_failures", res.TransientFailures),
		zap.Int("permanent_failures", res.PermanentFailures),
		zap.Int("redelivered", res.Redelivered),
		zap.Bool("cache_updated", res.CacheUpdated),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) pass(ctx context.Context, res *SyncResult, redelivered *bool, logger *zap.Logger) error {
	profileID := res.ProfileID

	current, err := e.readLedger(ctx, profileID)
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			e.recordAnomaly(ctx, res, registry.AnomalyMalformedRecord, err.Error(), logger)
		}
		return err
	}

	previous, err := e.store.GetCachedProfile(ctx, profileID)
	if errors.Is(err, db.ErrNotFound) {
		previous = nil
	} else if err != nil {
		return err
	}

	transitions, err := lifecycle.Derive(previous, current)
	if err != nil {
		var regression *lifecycle.RegressionError
		if errors.As(err, &regression) {
			e.recordAnomaly(ctx, res, registry.AnomalyRegression, regression.Error(), logger)
			return err
		}
		err = fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		e.recordAnomaly(ctx, res, registry.AnomalyMalformedRecord, err.Error(), logger)
		return err
	}
	res.Status = current.Status
	res.Verified = current.Verified
	res.Transitions = transitions

	if !*redelivered {
		*redelivered = true
		if err := e.redeliver(ctx, profileID, res, logger); err != nil {
			return err
		}
	}

	for _, tr := range transitions {
		metrics.TransitionsTotal.WithLabelValues(string(tr.Type)).Inc()
		if err := e.claimAndSend(ctx, tr, current.EthereumAddress, res, logger); err != nil {
			return err
		}
	}

	return e.writeCache(ctx, previous, current, res)
}

// readLedger returns the decoded record. A profile the ledger does not hold is Unsubmitted.
func (e *Engine) readLedger(ctx context.Context, profileID uint64) (profile.Fields, error) {
	raw, err := e.ledger.FetchProfileRecord(ctx, profileID)
	switch {
	case errors.Is(err, ledger.ErrProfileNotFound):
		return profile.Fields{ProfileID: profileID, Status: profile.Unsubmitted}, nil
	case errors.Is(err, ledger.ErrSchemaMismatch):
		return profile.Fields{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	case err != nil:
		return profile.Fields{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	fields, err := e.decoder.Decode(raw)
	if err != nil {
		return profile.Fields{}, err
	}
	fields.ProfileID = profileID
	return fields, nil
}

func (e *Engine) claimAndSend(ctx context.Context, tr profile.Transition, owner string, res *SyncResult, logger *zap.Logger) error {
	key := tr.Key()
	now := e.now()
	n := registry.Notification{
		ID:             e.newID(),
		EventType:      key.Type,
		ProfileID:      key.ProfileID,
		EventTimestamp: key.EventTimestamp,
		CreatedAt:      now,
	}

	var deliveries []registry.Delivery
	if body, ok := e.templates.Render(tr); ok {
		n.Body = body
		recipients, err := e.recipients.Resolve(ctx, owner)
		if err != nil {
			return err
		}
		leaseUntil := now.Add(e.config.LeaseDuration)
		for _, rc := range recipients {
			deliveries = append(deliveries, registry.Delivery{
				ID:             e.newID(),
				NotificationID: n.ID,
				ProfileID:      n.ProfileID,
				EventType:      n.EventType,
				Channel:        rc.Channel,
				Destination:    rc.Destination,
				Body:           body,
				Status:         registry.DeliverySending,
				Attempts:       1,
				LeaseUntil:     &leaseUntil,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}

	inserted, err := e.store.ClaimNotification(ctx, n, deliveries)
	if err != nil {
		return err
	}
	if !inserted {
		res.Duplicates++
		metrics.NotificationClaimsTotal.WithLabelValues(string(key.Type), "duplicate").Inc()
		logger.Debug("Event already claimed", zap.Stringer("key", key))
		return nil
	}
	res.Claimed++
	metrics.NotificationClaimsTotal.WithLabelValues(string(key.Type), "claimed").Inc()
	logger.Info("Event claimed", zap.Stringer("key", key), zap.Int("deliveries", len(deliveries)))

	for _, d := range deliveries {
		if err := e.deliver(ctx, d, res, logger); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends one leased delivery and records its outcome. The outcome is recorded
// even when ctx ends during the send so the lease is released.
func (e *Engine) deliver(ctx context.Context, d registry.Delivery, res *SyncResult, logger *zap.Logger) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.config.SendTimeout)
	sendErr := e.dispatcher.Send(sendCtx, d.Channel, d.Destination, d.Body)
	cancel()

	status := notify.Outcome(sendErr)
	outcome := registry.DeliveryOutcome{DeliveryID: d.ID, Status: status, At: e.now()}
	switch status {
	case registry.DeliverySent:
		res.Sent++
	case registry.DeliveryTransientFailure:
		res.TransientFailures++
	case registry.DeliveryPermanentFailure:
		res.PermanentFailures++
	}
	metrics.DeliveriesTotal.WithLabelValues(string(d.Channel), string(status)).Inc()

	if sendErr != nil {
		outcome.LastError = sendErr.Error()
		res.Failures = append(res.Failures, DeliveryFailure{
			DeliveryID:  d.ID,
			Channel:     d.Channel,
			Destination: d.Destination,
			Status:      status,
			Error:       outcome.LastError,
		})
		logger.Warn("Notification send failed",
			zap.String("delivery_id", d.ID),
			zap.String("channel", string(d.Channel)),
			zap.Int("attempt", d.Attempts),
			zap.String("outcome", string(status)),
			zap.Error(sendErr))
	}

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelRecord()
	return e.store.RecordDeliveryOutcome(recordCtx, outcome)
}

// redeliver resends deliveries earlier passes claimed but never confirmed sent.
func (e *Engine) redeliver(ctx context.Context, profileID uint64, res *SyncResult, logger *zap.Logger) error {
	now := e.now()
	leased, err := e.store.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{
		ProfileID:   profileID,
		Now:         now,
		LeaseUntil:  now.Add(e.config.LeaseDuration),
		MaxAttempts: e.config.MaxAttempts,
		Limit:       e.config.RedeliveryBatch,
	})
	if err != nil {
		return err
	}
	for _, d := range leased {
		res.Redelivered++
		if err := e.deliver(ctx, d, res, logger); err != nil {
			return err
		}
	}
	return nil
}

// Redeliver runs only the resend step. profileID zero covers every profile.
func (e *Engine) Redeliver(ctx context.Context, profileID uint64) (*SyncResult, error) {
	logger := e.logger.With(zap.Uint64("profile_id", profileID))
	if profileID != 0 {
		unlock, err := e.lock(ctx, profileID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	res := &SyncResult{ProfileID: profileID}
	if err := e.redeliver(ctx, profileID, res, logger); err != nil {
		return res, err
	}
	if res.Redelivered > 0 {
		logger.Info("Redelivered notifications",
			zap.Int("redelivered", res.Redelivered),
			zap.Int("sent", res.Sent),
			zap.Int("transient_failures", res.TransientFailures),
			zap.Int("permanent_failures", res.PermanentFailures))
	}
	return res, nil
}

// writeCache compare-and-swaps the cached row. A row whose decoded fields did not
// change is left untouched; the ledger clock alone is not a change.
func (e *Engine) writeCache(ctx context.Context, previous *profile.Cached, current profile.Fields, res *SyncResult) error {
	var version int64
	if previous != nil {
		version = previous.Version
		same, err := sameFields(previous.Fields, current)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
	} else if current.Status == profile.Unsubmitted {
		return nil
	}

	row := &profile.Cached{Fields: current, Version: version, SyncedAt: e.now()}
	if err := e.store.UpsertCachedProfile(ctx, row); err != nil {
		return err
	}
	res.CacheUpdated = true
	return nil
}

func sameFields(a, b profile.Fields) (bool, error) {
	a.LedgerNow, b.LedgerNow = nil, nil
	ea, err := db.EncodeFields(a)
	if err != nil {
		return false, err
	}
	eb, err := db.EncodeFields(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

func (e *Engine) recordAnomaly(ctx context.Context, res *SyncResult, kind, detail string, logger *zap.Logger) {
	a := registry.Anomaly{ProfileID: res.ProfileID, Kind: kind, Detail: detail, ObservedAt: e.now()}
	res.Anomalies = append(res.Anomalies, a)
	metrics.AnomaliesTotal.WithLabelValues(kind).Inc()
	logger.Error("Sync anomaly", zap.String("kind", kind), zap.String("detail", detail))
	if err := e.store.RecordAnomaly(context.WithoutCancel(ctx), a); err != nil {
		logger.Warn("Failed to record anomaly", zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrRegressionObserved):
		return "regression_observed"
	case errors.Is(err, db.ErrStaleCache):
		return "stale_cache"
	default:
		return "error"
	}
}
