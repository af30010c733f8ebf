//go:build integration

package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paul-bdio/zorro/pkg/db"
	models "github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/db/postgres"
	"github.com/paul-bdio/zorro/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

var (
	testDSN    string
	testLogger *zap.Logger
)

// TestMain starts one PostgreSQL container shared by every test in the package.
func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testLogger, err = zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test logger: %v\n", err)
		os.Exit(1)
	}

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("zorro"),
		tcpostgres.WithUsername("zorro"),
		tcpostgres.WithPassword("zorro"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		testLogger.Fatal("Failed to start PostgreSQL container", zap.Error(err))
	}

	testDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		testLogger.Fatal("Failed to read connection string", zap.Error(err))
	}

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		testLogger.Error("Failed to terminate PostgreSQL container", zap.Error(err))
	}
	os.Exit(code)
}

func createTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	d, err := New(ctx, testLogger, testDSN, postgres.GetPoolConfigForComponent("cli"))
	require.NoError(t, err)
	for _, table := range []string{
		models.DeliveriesTableName, models.NotificationsTableName, models.CachedProfilesTableName,
		models.ContactsTableName, models.ConnectionsTableName, models.AnomaliesTableName,
	} {
		require.NoError(t, d.Exec(ctx, "TRUNCATE "+table+" CASCADE"))
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
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

func claimOne(t *testing.T, d *DB, id uint64, dest string, now time.Time, lease time.Duration) (models.Notification, bool) {
	t.Helper()
	n := models.Notification{
		ID:             uuid.NewString(),
		EventType:      profile.EventNewChallenge,
		ProfileID:      id,
		EventTimestamp: ts(123456789),
		Body:           "New challenge to profile 1",
		CreatedAt:      now,
	}
	until := now.Add(lease)
	inserted, err := d.ClaimNotification(context.Background(), n, []models.Delivery{{
		ID:          uuid.NewString(),
		Channel:     models.ChannelSMS,
		Destination: dest,
		Body:        n.Body,
		Status:      models.DeliverySending,
		Attempts:    1,
		LeaseUntil:  &until,
		CreatedAt:   now,
	}})
	require.NoError(t, err)
	return n, inserted
}

func TestCachedProfileCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	d := createTestDB(t)

	_, err := d.GetCachedProfile(ctx, 1)
	require.ErrorIs(t, err, db.ErrNotFound)

	p := challenged(1)
	require.NoError(t, d.UpsertCachedProfile(ctx, p))
	require.ErrorIs(t, d.UpsertCachedProfile(ctx, challenged(1)), db.ErrStaleCache)

	got, err := d.GetCachedProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, profile.Challenged, got.Status)
	assert.True(t, got.ChallengeTimestamp.Equal(ts(123456789)))

	got.Status = profile.Adjudicated
	require.NoError(t, d.UpsertCachedProfile(ctx, got))
	stale := *p
	require.ErrorIs(t, d.UpsertCachedProfile(ctx, &stale), db.ErrStaleCache)

	list, err := d.ListCachedProfiles(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].Version)
}

func TestClaimNotificationConcurrent(t *testing.T) {
	d := createTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, inserted := claimOne(t, d, 1, "+15550100", now, time.Minute); inserted {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	list, err := d.ListNotifications(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Deliveries, 1)
	assert.Equal(t, "NEW_CHALLENGE/1/1970-01-02T10:17:36.789Z", list[0].Key().String())
}

func TestRedeliveryExhaustion(t *testing.T) {
	ctx := context.Background()
	d := createTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, inserted := claimOne(t, d, 1, "+15550100", now.Add(-time.Hour), time.Minute)
	require.True(t, inserted)

	leased, err := d.ClaimPendingDeliveries(ctx, models.RedeliveryQuery{
		Now: now, LeaseUntil: now.Add(time.Minute), MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 2, leased[0].Attempts)

	require.NoError(t, d.RecordDeliveryOutcome(ctx, models.DeliveryOutcome{
		DeliveryID: leased[0].ID, Status: models.DeliveryTransientFailure, LastError: "timeout", At: now,
	}))

	leased, err = d.ClaimPendingDeliveries(ctx, models.RedeliveryQuery{
		Now: now, LeaseUntil: now.Add(time.Minute), MaxAttempts: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, leased)

	list, err := d.ListNotifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list[0].Deliveries, 1)
	assert.Equal(t, models.DeliveryPermanentFailure, list[0].Deliveries[0].Status)
	assert.Equal(t, "attempts exhausted: timeout", list[0].Deliveries[0].LastError)
}

func TestVerifiedExternalAddresses(t *testing.T) {
	ctx := context.Background()
	d := createTestDB(t)

	verified := challenged(1)
	verified.Status = profile.Adjudicated
	verified.Verified = true
	require.NoError(t, d.UpsertCachedProfile(ctx, verified))
	require.NoError(t, d.UpsertCachedProfile(ctx, challenged(2)))

	require.NoError(t, d.PutConnection(ctx, models.Connection{PurposeIdentifier: "airdrop", ExternalAddress: "0xAAA", ProfileID: 1}))
	require.NoError(t, d.PutConnection(ctx, models.Connection{PurposeIdentifier: "airdrop", ExternalAddress: "0xbbb", ProfileID: 2}))

	got, err := d.VerifiedExternalAddresses(ctx, "airdrop", []string{"0xaaa", "0xBBB", "0xccc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa"}, got)

	require.NoError(t, d.RecordAnomaly(ctx, models.Anomaly{ProfileID: 2, Kind: models.AnomalyRegression, Detail: "Adjudicated -> Challenged"}))
	anomalies, err := d.ListAnomalies(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalyRegression, anomalies[0].Kind)
}
