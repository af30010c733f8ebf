package workflow

import (
	"time"

	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// SweepResult summarizes one SweepProfilesWorkflow run.
type SweepResult struct {
	Profiles uint64
	Batches  int
	Started  int
	Failed   int
}

// SweepProfilesWorkflow starts a SyncProfileWorkflow for every profile 1..count, in
// batches. A batch that fails outright is logged and the sweep moves on; the next
// scheduled sweep covers it.
func (wc *Context) SweepProfilesWorkflow(ctx workflow.Context, in profilesync.SweepInput) (*SweepResult, error) {
	logger := workflow.GetLogger(ctx)

	countCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})
	batchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var count uint64
	if err := workflow.ExecuteActivity(countCtx, wc.ActivityContext.GetProfileCount).Get(countCtx, &count); err != nil {
		return nil, err
	}

	batchSize := in.BatchSize
	if batchSize == 0 {
		batchSize = wc.Config.SweepBatchSize
	}
	if batchSize == 0 {
		batchSize = 500
	}

	out := &SweepResult{Profiles: count}
	for from := uint64(1); from <= count; from += batchSize {
		to := min(from+batchSize-1, count)
		var batch profilesync.BatchOutput
		err := workflow.ExecuteActivity(batchCtx, wc.ActivityContext.StartProfileSyncBatch,
			profilesync.BatchInput{From: from, To: to, Source: "sweep"}).Get(batchCtx, &batch)
		out.Batches++
		if err != nil {
			logger.Warn("Sweep batch failed", "from", from, "to", to, "error", err.Error())
			out.Failed += int(to - from + 1)
			continue
		}
		out.Started += batch.Started
		out.Failed += batch.Failed
	}

	logger.Info("Sweep scheduled",
		"profiles", count,
		"batches", out.Batches,
		"started", out.Started,
		"failed", out.Failed,
	)
	return out, nil
}
