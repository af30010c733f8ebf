package workflow

import (
	"time"

	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func syncActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		// Covers the ledger read plus every send of the pass.
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: profilesync.NonRetryableErrorTypes,
		},
	}
}

// SyncProfileWorkflow runs one sync pass for a profile. When the pass left deliveries
// transiently failed it waits RedeliverDelay and resends them, up to RedeliverRounds times.
func (wc *Context) SyncProfileWorkflow(ctx workflow.Context, in profilesync.SyncInput) (*syncer.SyncResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, syncActivityOptions())

	var res syncer.SyncResult
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.SyncProfile, in).Get(ctx, &res); err != nil {
		return nil, err
	}

	for round := 1; round <= wc.Config.RedeliverRounds && res.NeedsRedelivery(); round++ {
		logger.Info("Scheduling redelivery",
			"profile_id", in.ProfileID,
			"transient_failures", res.TransientFailures,
			"round", round,
		)
		if err := workflow.Sleep(ctx, wc.Config.RedeliverDelay); err != nil {
			return &res, err
		}

		var again syncer.SyncResult
		if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RedeliverNotifications,
			profilesync.RedeliverInput{ProfileID: in.ProfileID}).Get(ctx, &again); err != nil {
			// The deliveries stay pending; the next pass for the profile picks them up.
			logger.Warn("Redelivery failed", "profile_id", in.ProfileID, "error", err.Error())
			return &res, nil
		}
		mergeRedelivery(&res, &again)
	}
	return &res, nil
}

// mergeRedelivery folds a redelivery step into the pass result. TransientFailures is
// replaced, not summed, so it reflects what is still outstanding.
func mergeRedelivery(res, again *syncer.SyncResult) {
	res.Sent += again.Sent
	res.Redelivered += again.Redelivered
	res.PermanentFailures += again.PermanentFailures
	res.TransientFailures = again.TransientFailures
	res.Failures = append(res.Failures, again.Failures...)
}
