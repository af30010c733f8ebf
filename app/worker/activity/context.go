package activity

import (
	"context"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"go.uber.org/zap"
)

// WorkflowStarter starts per-profile sync workflows. *temporal.Client implements it.
type WorkflowStarter interface {
	StartProfileSync(ctx context.Context, in profilesync.SyncInput) (string, error)
}

type Context struct {
	Logger *zap.Logger
	Engine *syncer.Engine
	// Ledger answers the profile count for sweeps.
	Ledger ledger.Reader
	// For scheduling workflows
	Starter WorkflowStarter
	// SchedulerMaxParallelism allows overriding the default scheduling pool size.
	SchedulerMaxParallelism int
	schedulerPoolOnce       sync.Once
	schedulerPool           pond.Pool
}

// schedulerBatchPool returns the pool shared by every StartProfileSyncBatch call.
func (c *Context) schedulerBatchPool() pond.Pool {
	c.schedulerPoolOnce.Do(func() {
		workers := SchedulerParallelism(c.SchedulerMaxParallelism)
		c.schedulerPool = pond.NewPool(workers, pond.WithQueueSize(workers*256))
	})
	return c.schedulerPool
}

// Close releases the scheduling pool once running submissions finish.
func (c *Context) Close() {
	if c.schedulerPool != nil {
		c.schedulerPool.StopAndWait()
	}
}

// SchedulerParallelism is two starts in flight per CPU, capped at 64, unless overridden.
func SchedulerParallelism(override int) int {
	if override > 0 {
		return min(override, 512)
	}
	return min(max(runtime.NumCPU()*2, 2), 64)
}
