package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"go.uber.org/zap"
)

// SweepResult aggregates one sweep over every ledger profile.
type SweepResult struct {
	Profiles  uint64            `json:"profiles"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Claimed   int               `json:"claimed"`
	Sent      int               `json:"sent"`
	Anomalies int               `json:"anomalies"`
	Errors    map[string]string `json:"errors,omitempty"`
	Took      time.Duration     `json:"took"`
}

// DefaultSweepBatchSize is the number of profile ids a sweep materializes at once.
const DefaultSweepBatchSize uint64 = 500

// Runner syncs many profiles concurrently. Passes for distinct profiles are
// independent; the engine serializes passes for the same profile.
type Runner struct {
	// BatchSize bounds the ids submitted per sweep step. Zero means DefaultSweepBatchSize.
	BatchSize uint64

	engine *Engine
	ledger ledger.Reader
	pool   pond.Pool
	logger *zap.Logger
}

// NewRunner creates a runner with a pool of concurrency workers.
func NewRunner(engine *Engine, reader ledger.Reader, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Runner{
		engine: engine,
		ledger: reader,
		pool:   pond.NewPool(concurrency, pond.WithQueueSize(concurrency*64)),
		logger: logger,
	}
}

// Sweep syncs profiles 1..ProfileCount. Individual failures are collected, not fatal.
func (r *Runner) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	count, err := r.ledger.ProfileCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	size := r.BatchSize
	if size == 0 {
		size = DefaultSweepBatchSize
	}
	out := &SweepResult{Errors: map[string]string{}}
	for first := uint64(1); first <= count && ctx.Err() == nil; {
		ids := SweepBatch(first, count, size)
		out.merge(r.SyncMany(ctx, ids))
		first = ids[len(ids)-1] + 1
		if first == 0 {
			break
		}
	}
	out.Profiles = count
	out.Took = time.Since(start)

	r.logger.Info("Sweep complete",
		zap.Uint64("profiles", count),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Int("claimed", out.Claimed),
		zap.Int("sent", out.Sent),
		zap.Duration("took", out.Took))
	return out, ctx.Err()
}

// SweepBatch returns the ids first..min(first+size-1, count). The caller keeps
// first <= count and size > 0.
func SweepBatch(first, count, size uint64) []uint64 {
	last := count
	if span := count - first; span >= size {
		last = first + size - 1
	}
	ids := make([]uint64, 0, last-first+1)
	for id := first; ; id++ {
		ids = append(ids, id)
		if id == last {
			break
		}
	}
	return ids
}

func (s *SweepResult) merge(batch *SweepResult) {
	s.Succeeded += batch.Succeeded
	s.Failed += batch.Failed
	s.Claimed += batch.Claimed
	s.Sent += batch.Sent
	s.Anomalies += batch.Anomalies
	for id, msg := range batch.Errors {
		s.Errors[id] = msg
	}
}

// SyncMany syncs the given profiles on the pool.
func (r *Runner) SyncMany(ctx context.Context, ids []uint64) *SweepResult {
	out := &SweepResult{Profiles: uint64(len(ids)), Errors: map[string]string{}}
	var mu sync.Mutex

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, id := range ids {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			res, err := r.engine.SyncProfile(groupCtx, id)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				out.Claimed += res.Claimed
				out.Sent += res.Sent
				out.Anomalies += len(res.Anomalies)
			}
			if err != nil {
				out.Failed++
				out.Errors[strconv.FormatUint(id, 10)] = err.Error()
				return
			}
			out.Succeeded++
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Sync group encountered error", zap.Error(err))
	}
	return out
}

// Stop waits for running passes and releases the pool.
func (r *Runner) Stop() {
	r.pool.StopAndWait()
}
