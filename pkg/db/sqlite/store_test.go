package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func challenged(id uint64) *profile.Cached {
	sub, chal := ts(2345), ts(123456789)
	return &profile.Cached{Fields: profile.Fields{
		ProfileID:           id,
		Status:              profile.Challenged,
		EthereumAddress:     "0x000000000000000000000000000000004956f0cd",
		SubmissionTimestamp: &sub,
		ChallengeTimestamp:  &chal,
	}}
}

func newChallengeNotification(id uint64, now time.Time) registry.Notification {
	return registry.Notification{
		ID:             uuid.NewString(),
		EventType:      profile.EventNewChallenge,
		ProfileID:      id,
		EventTimestamp: ts(123456789),
		Body:           "New challenge to profile 1",
		CreatedAt:      now,
	}
}

func leasedDelivery(n registry.Notification, dest string, now time.Time, lease time.Duration) registry.Delivery {
	until := now.Add(lease)
	return registry.Delivery{
		ID:          uuid.NewString(),
		Channel:     registry.ChannelSMS,
		Destination: dest,
		Body:        n.Body,
		Status:      registry.DeliverySending,
		Attempts:    1,
		LeaseUntil:  &until,
		CreatedAt:   now,
	}
}

func TestCachedProfileCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.GetCachedProfile(ctx, 1)
	require.ErrorIs(t, err, db.ErrNotFound)

	p := challenged(1)
	require.NoError(t, s.UpsertCachedProfile(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	racer := challenged(1)
	require.ErrorIs(t, s.UpsertCachedProfile(ctx, racer), db.ErrStaleCache, "second insert loses")

	got, err := s.GetCachedProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, profile.Challenged, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.ChallengeTimestamp)
	assert.Equal(t, ts(123456789), *got.ChallengeTimestamp)
	assert.Nil(t, got.AdjudicationTimestamp)

	stale := *got
	got.Status = profile.Adjudicated
	require.NoError(t, s.UpsertCachedProfile(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	require.ErrorIs(t, s.UpsertCachedProfile(ctx, &stale), db.ErrStaleCache)

	list, err := s.ListCachedProfiles(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, profile.Adjudicated, list[0].Status)
}

func TestClaimNotificationIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := ts(200000000)

	n := newChallengeNotification(1, now)
	inserted, err := s.ClaimNotification(ctx, n, []registry.Delivery{leasedDelivery(n, "+15550001", now, time.Minute)})
	require.NoError(t, err)
	assert.True(t, inserted)

	again := newChallengeNotification(1, now.Add(time.Hour))
	inserted, err = s.ClaimNotification(ctx, again, []registry.Delivery{leasedDelivery(again, "+15550002", now, time.Minute)})
	require.NoError(t, err)
	assert.False(t, inserted, "same natural key under a new id is a duplicate")

	list, err := s.ListNotifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)
	require.Len(t, list[0].Deliveries, 1)
	assert.Equal(t, "+15550001", list[0].Deliveries[0].Destination)
	assert.Equal(t, registry.DeliverySending, list[0].Deliveries[0].Status)
}

func TestClaimNotificationConcurrent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := ts(200000000)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := newChallengeNotification(1, now)
			inserted, err := s.ClaimNotification(ctx, n, nil)
			assert.NoError(t, err)
			if inserted {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := ts(200000000)

	n := newChallengeNotification(1, now)
	d := leasedDelivery(n, "+15550001", now, time.Minute)
	_, err := s.ClaimNotification(ctx, n, []registry.Delivery{d})
	require.NoError(t, err)

	// Lease still held: nothing to redeliver.
	got, err := s.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{ProfileID: 1, Now: now, LeaseUntil: now.Add(time.Minute), MaxAttempts: 3})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.RecordDeliveryOutcome(ctx, registry.DeliveryOutcome{DeliveryID: d.ID, Status: registry.DeliveryTransientFailure, LastError: "provider down", At: now}))

	got, err = s.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{ProfileID: 1, Now: now.Add(time.Second), LeaseUntil: now.Add(time.Minute), MaxAttempts: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, registry.DeliverySending, got[0].Status)

	// A second claimer during the lease gets nothing.
	again, err := s.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{ProfileID: 1, Now: now.Add(2 * time.Second), LeaseUntil: now.Add(time.Minute), MaxAttempts: 3})
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.RecordDeliveryOutcome(ctx, registry.DeliveryOutcome{DeliveryID: d.ID, Status: registry.DeliverySent, At: now.Add(3 * time.Second)}))

	list, err := s.ListNotifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list[0].Deliveries, 1)
	assert.Equal(t, registry.DeliverySent, list[0].Deliveries[0].Status)
	require.NotNil(t, list[0].Deliveries[0].SentAt)
	assert.Nil(t, list[0].Deliveries[0].LeaseUntil)
}

func TestRedeliveryExpiredLeaseAndExhaustion(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := ts(200000000)

	n := newChallengeNotification(1, now)
	d := leasedDelivery(n, "a@example.com", now, time.Second)
	d.Channel = registry.ChannelEmail
	_, err := s.ClaimNotification(ctx, n, []registry.Delivery{d})
	require.NoError(t, err)

	// Claimed but never confirmed: the lease expired.
	got, err := s.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{Now: now.Add(time.Minute), LeaseUntil: now.Add(2 * time.Minute), MaxAttempts: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Attempts)

	require.NoError(t, s.RecordDeliveryOutcome(ctx, registry.DeliveryOutcome{DeliveryID: d.ID, Status: registry.DeliveryTransientFailure, LastError: "timeout", At: now.Add(time.Minute)}))

	got, err = s.ClaimPendingDeliveries(ctx, registry.RedeliveryQuery{Now: now.Add(3 * time.Minute), LeaseUntil: now.Add(4 * time.Minute), MaxAttempts: 2})
	require.NoError(t, err)
	assert.Empty(t, got)

	list, err := s.ListNotifications(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, registry.DeliveryPermanentFailure, list[0].Deliveries[0].Status)
	assert.Equal(t, "attempts exhausted: timeout", list[0].Deliveries[0].LastError)
}

func TestRecordDeliveryOutcomeUnknown(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordDeliveryOutcome(context.Background(), registry.DeliveryOutcome{DeliveryID: "missing", Status: registry.DeliverySent, At: ts(1)})
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestVerifiedExternalAddresses(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	verified := challenged(1)
	verified.Status = profile.Adjudicated
	verified.Verified = true
	require.NoError(t, s.UpsertCachedProfile(ctx, verified))
	require.NoError(t, s.UpsertCachedProfile(ctx, challenged(2)))

	require.NoError(t, s.PutConnection(ctx, registry.Connection{PurposeIdentifier: "snapshot", ExternalAddress: "0xAAA", ProfileID: 1}))
	require.NoError(t, s.PutConnection(ctx, registry.Connection{PurposeIdentifier: "snapshot", ExternalAddress: "0xbbb", ProfileID: 2}))
	require.NoError(t, s.PutConnection(ctx, registry.Connection{PurposeIdentifier: "other", ExternalAddress: "0xccc", ProfileID: 1}))

	got, err := s.VerifiedExternalAddresses(ctx, "snapshot", []string{"0xaaa", "0xBBB", "0xCCC", "0xddd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa"}, got)

	got, err = s.VerifiedExternalAddresses(ctx, "snapshot", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContactsAndAnomalies(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.PutContact(ctx, registry.Contact{Address: "0xABC", Channel: registry.ChannelEmail, Destination: "owner@example.com"}))
	require.NoError(t, s.PutContact(ctx, registry.Contact{Address: "0xabc", Channel: registry.ChannelEmail, Destination: "owner@example.com"}))
	contacts, err := s.ContactsForAddress(ctx, "0xAbC")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "owner@example.com", contacts[0].Destination)

	require.NoError(t, s.RecordAnomaly(ctx, registry.Anomaly{ProfileID: 4, Kind: registry.AnomalyRegression, Detail: "ADJUDICATED -> CHALLENGED", ObservedAt: ts(10)}))
	anomalies, err := s.ListAnomalies(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, registry.AnomalyRegression, anomalies[0].Kind)

	all, err := s.ListAnomalies(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
