package workflow

import (
	"time"

	"github.com/paul-bdio/zorro/app/worker/activity"
	"github.com/paul-bdio/zorro/pkg/utils"
)

// Config holds the workflow configuration.
type Config struct {
	// RedeliverDelay is the wait before resending deliveries a pass left transiently failed.
	RedeliverDelay time.Duration
	// RedeliverRounds bounds those resends per workflow run.
	RedeliverRounds int
	// SweepBatchSize is the number of profile workflows started per batch activity.
	SweepBatchSize uint64
}

// ConfigFromEnv reads REDELIVER_DELAY, REDELIVER_ROUNDS and SWEEP_BATCH_SIZE.
func ConfigFromEnv() Config {
	return Config{
		RedeliverDelay:  utils.EnvDuration("REDELIVER_DELAY", time.Minute),
		RedeliverRounds: utils.EnvInt("REDELIVER_ROUNDS", 1),
		SweepBatchSize:  uint64(utils.EnvInt("SWEEP_BATCH_SIZE", 500)),
	}
}

// Context holds the workflow context.
type Context struct {
	ActivityContext *activity.Context
	Config          Config
}
