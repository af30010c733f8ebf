// Package standalone runs profile sweeps on a local cron schedule without Temporal.
package standalone

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/paul-bdio/zorro/app/worker"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/backend"
	"github.com/paul-bdio/zorro/pkg/logging"
	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/paul-bdio/zorro/pkg/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronSpec sweeps every five minutes. The seconds field is required.
const DefaultCronSpec = "0 */5 * * * *"

type App struct {
	Store       db.Store
	RedisClient *redis.Client
	Runner      *syncer.Runner

	// Cron triggers Sweep according to CronSpec.
	Cron         *cron.Cron
	CronSpec     string
	SweepTimeout time.Duration

	lastSweep atomic.Pointer[syncer.SweepResult]

	Logger *zap.Logger
	Server *http.Server
}

// Initialize opens the store, the ledger and the notification channels and schedules
// sweeps. CRON_SPEC, SWEEP_TIMEOUT and SWEEP_CONCURRENCY tune the schedule.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New("standalone")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	metrics.Register()

	store, err := backend.Open(ctx, logger, "worker")
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}

	var redisClient *redis.Client
	var publisher syncer.Publisher
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Redis unavailable, profile events disabled", zap.Error(err))
		} else {
			publisher = redisClient
		}
	}

	engine, reader, err := syncer.NewEngineFromEnv(logger, store, publisher)
	if err != nil {
		return nil, err
	}

	runner := syncer.NewRunner(engine, reader, utils.EnvInt("SWEEP_CONCURRENCY", 8), logger.Named("runner"))
	runner.BatchSize = uint64(utils.EnvInt("SWEEP_BATCH_SIZE", int(syncer.DefaultSweepBatchSize)))

	app := &App{
		Store:        store,
		RedisClient:  redisClient,
		Runner:       runner,
		CronSpec:     utils.Env("CRON_SPEC", DefaultCronSpec),
		SweepTimeout: utils.EnvDuration("SWEEP_TIMEOUT", 4*time.Minute),
		Logger:       logger,
	}
	if err := app.SetupScheduler(ctx); err != nil {
		return nil, err
	}
	app.SetupServer()
	return app, nil
}

// SetupScheduler registers the sweep. A tick that fires while the previous sweep is
// still running is skipped.
func (a *App) SetupScheduler(ctx context.Context) error {
	logger := cronLogger{a.Logger.Named("cron").Sugar()}
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, a.SweepTimeout)
		defer cancel()
		if _, err := a.Sweep(rctx); err != nil {
			a.Logger.Warn("Sweep error", zap.Error(err))
		}
	})
	return err
}

// Sweep syncs every ledger profile once and remembers the result for /status.
func (a *App) Sweep(ctx context.Context) (*syncer.SweepResult, error) {
	res, err := a.Runner.Sweep(ctx)
	if res != nil {
		a.lastSweep.Store(res)
	}
	return res, err
}

// LastSweep returns the most recent sweep result, or nil before the first one.
func (a *App) LastSweep() *syncer.SweepResult { return a.lastSweep.Load() }

// SetupServer exposes /healthz, /readyz, /metrics and /status on ADDR (default :3001).
func (a *App) SetupServer() {
	checks := map[string]worker.ReadyCheck{"store": a.Store.Ping}
	if a.RedisClient != nil {
		checks["redis"] = a.RedisClient.Health
	}
	r := worker.NewOpsRouter(checks)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"cronSpec": a.CronSpec, "lastSweep": a.LastSweep()})
	}).Methods(http.MethodGet)

	a.Server = &http.Server{Addr: utils.Env("ADDR", ":3001"), Handler: r, ReadHeaderTimeout: 10 * time.Second}
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron waits for a running sweep to finish.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start serves ops endpoints and sweeps until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Ops server stopped", zap.Error(err))
		}
	}()
	a.StartCron()

	<-ctx.Done()
	a.Stop()
}

func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Logger.Info("Shutting down")
	a.StopCron()
	a.Runner.Stop()
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	_ = a.Store.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
