package syncer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweep(t *testing.T) {
	h := newHarness(t)
	h.reader.Put(1, challengedRecord())
	h.reader.Put(2, adjudicatedRecord(true))

	runner := NewRunner(h.engine, h.reader, 4, zaptest.NewLogger(t))
	defer runner.Stop()

	out, err := runner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out.Profiles)
	assert.Equal(t, 2, out.Succeeded)
	assert.Zero(t, out.Failed)
	assert.Equal(t, 5, out.Claimed)
	assert.Equal(t, 3, out.Sent)

	out, err = runner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, out.Claimed)
	assert.Zero(t, out.Sent)
	assert.Len(t, h.dispatcher.Calls(), 3)
}

func TestSweepCollectsFailures(t *testing.T) {
	h := newHarness(t)
	h.reader.Put(1, challengedRecord())
	bad := challengedRecord()
	bad.ChallengeTimestamp = "0xzz"
	h.reader.Put(2, bad)

	runner := NewRunner(h.engine, h.reader, 2, zaptest.NewLogger(t))
	defer runner.Stop()

	out, err := runner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Anomalies)
	assert.Contains(t, out.Errors, "2")
}

func TestSweepLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	runner := NewRunner(h.engine, unavailableReader{}, 2, zaptest.NewLogger(t))
	defer runner.Stop()

	_, err := runner.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
}

func TestSweepBatch(t *testing.T) {
	assert.Equal(t, []uint64{1, 2}, SweepBatch(1, 5, 2))
	assert.Equal(t, []uint64{5}, SweepBatch(5, 5, 2))
	assert.Equal(t, []uint64{3, 4, 5}, SweepBatch(3, 5, 10))

	// A huge ledger count still materializes one batch at a time.
	ids := SweepBatch(1, math.MaxUint64, DefaultSweepBatchSize)
	assert.Len(t, ids, int(DefaultSweepBatchSize))
	assert.Equal(t, []uint64{math.MaxUint64}, SweepBatch(math.MaxUint64, math.MaxUint64, 3))
}

func TestSweepInBatches(t *testing.T) {
	h := newHarness(t)
	for id := uint64(1); id <= 5; id++ {
		h.reader.Put(id, challengedRecord())
	}

	runner := NewRunner(h.engine, h.reader, 2, zaptest.NewLogger(t))
	runner.BatchSize = 2
	defer runner.Stop()

	out, err := runner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), out.Profiles)
	assert.Equal(t, 5, out.Succeeded)
	assert.Equal(t, 5, out.Sent)
	assert.Len(t, h.dispatcher.Calls(), 5)
}

func TestSweepStopsBetweenBatches(t *testing.T) {
	h := newHarness(t)
	for id := uint64(1); id <= 4; id++ {
		h.reader.Put(id, challengedRecord())
	}

	runner := NewRunner(h.engine, h.reader, 1, zaptest.NewLogger(t))
	runner.BatchSize = 1
	defer runner.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := runner.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Succeeded)
	assert.Empty(t, h.dispatcher.Calls())
}
