package activity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// SyncProfile runs one engine pass for the profile.
func (c *Context) SyncProfile(ctx context.Context, in profilesync.SyncInput) (*syncer.SyncResult, error) {
	if in.ProfileID == 0 {
		return nil, sdktemporal.NewNonRetryableApplicationError("profile id is required", "invalid_input", nil)
	}
	res, err := c.Engine.SyncProfile(ctx, in.ProfileID)
	if err != nil {
		c.Logger.Warn("SyncProfile activity failed",
			zap.Uint64("profile_id", in.ProfileID),
			zap.String("source", in.Source),
			zap.Error(err))
		return nil, applicationError(err)
	}
	return res, nil
}

// RedeliverNotifications resends the profile's unconfirmed deliveries without reading
// the ledger. ProfileID zero covers every profile.
func (c *Context) RedeliverNotifications(ctx context.Context, in profilesync.RedeliverInput) (*syncer.SyncResult, error) {
	res, err := c.Engine.Redeliver(ctx, in.ProfileID)
	if err != nil {
		return nil, applicationError(err)
	}
	return res, nil
}

// GetProfileCount returns the number of profiles the registry holds.
func (c *Context) GetProfileCount(ctx context.Context) (uint64, error) {
	n, err := c.Ledger.ProfileCount(ctx)
	if err != nil {
		return 0, applicationError(fmt.Errorf("%w: %w", syncer.ErrLedgerUnavailable, err))
	}
	return n, nil
}

// StartProfileSyncBatch starts SyncProfileWorkflow for every id in From..To. Individual
// start failures are counted; the batch fails only when nothing could be started.
func (c *Context) StartProfileSyncBatch(ctx context.Context, in profilesync.BatchInput) (profilesync.BatchOutput, error) {
	if in.To < in.From {
		return profilesync.BatchOutput{}, nil
	}

	var started, failed atomic.Int64
	group := c.schedulerBatchPool().NewGroupContext(ctx)
	groupCtx := group.Context()
	for id := in.From; id <= in.To; id++ {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				failed.Add(1)
				return
			}
			if _, err := c.Starter.StartProfileSync(groupCtx, profilesync.SyncInput{ProfileID: id, Source: in.Source}); err != nil {
				failed.Add(1)
				c.Logger.Warn("Failed to start profile sync", zap.Uint64("profile_id", id), zap.Error(err))
				return
			}
			started.Add(1)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		c.Logger.Warn("Start batch group encountered error", zap.Error(err))
	}

	out := profilesync.BatchOutput{Started: int(started.Load()), Failed: int(failed.Load())}
	if out.Started == 0 && out.Failed > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		return out, sdktemporal.NewApplicationError(
			fmt.Sprintf("no profile sync started for %d..%d", in.From, in.To), "start_failed", out)
	}
	return out, nil
}

// applicationError maps engine errors onto Temporal error types so the retry policy can
// tell transient failures from ones a retry cannot fix.
func applicationError(err error) error {
	switch {
	case errors.Is(err, syncer.ErrMalformedRecord):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), profilesync.ErrTypeMalformedRecord, err)
	case errors.Is(err, syncer.ErrRegressionObserved):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), profilesync.ErrTypeRegressionObserved, err)
	case errors.Is(err, syncer.ErrLedgerUnavailable):
		return sdktemporal.NewApplicationErrorWithCause(err.Error(), profilesync.ErrTypeLedgerUnavailable, err)
	}
	return err
}
