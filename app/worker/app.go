package worker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/paul-bdio/zorro/app/worker/activity"
	"github.com/paul-bdio/zorro/app/worker/workflow"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/backend"
	"github.com/paul-bdio/zorro/pkg/logging"
	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/paul-bdio/zorro/pkg/temporal"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

type App struct {
	Worker          worker.Worker
	TemporalClient  *temporal.Client
	Store           db.Store
	RedisClient     *redis.Client
	Consumer        *redis.StreamConsumer
	ActivityContext *activity.Context
	Server          *http.Server
	Logger          *zap.Logger
}

// Start starts the worker and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if err := a.Worker.Start(); err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}

	go func() {
		a.Logger.Info("Ops server listening", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Ops server stopped", zap.Error(err))
		}
	}()

	if a.Consumer != nil {
		go func() {
			handler := SyncRequestHandler(a.TemporalClient, a.Logger.Named("stream"))
			if err := a.Consumer.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("Sync request consumer stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.Stop()
}

// Stop stops the worker.
func (a *App) Stop() {
	a.Worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.ActivityContext.Close()
	a.TemporalClient.Close()
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	_ = a.Store.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("worker")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	metrics.Register()

	store, err := backend.Open(ctx, logger, "worker")
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}

	var (
		redisClient *redis.Client
		publisher   syncer.Publisher
	)
	if utils.EnvBool("REDIS_ENABLED", true) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
		publisher = redisClient
	}

	engine, reader, err := syncer.NewEngineFromEnv(logger, store, publisher)
	if err != nil {
		logger.Fatal("Unable to build sync engine", zap.Error(err))
	}

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}
	if utils.EnvBool("TEMPORAL_ENSURE_NAMESPACE", false) {
		retention := utils.EnvDuration("TEMPORAL_RETENTION", 72*time.Hour)
		if err := temporalClient.EnsureNamespace(ctx, retention); err != nil {
			logger.Fatal("Unable to ensure temporal namespace", zap.Error(err))
		}
	}
	if err := temporalClient.EnsureSweepSchedule(ctx, utils.EnvDuration("SWEEP_INTERVAL", 5*time.Minute)); err != nil {
		logger.Fatal("Unable to ensure sweep schedule", zap.Error(err))
	}

	activityContext := &activity.Context{
		Logger:                  logger,
		Engine:                  engine,
		Ledger:                  reader,
		Starter:                 temporalClient,
		SchedulerMaxParallelism: utils.EnvInt("SCHEDULER_PARALLELISM", 0),
	}
	workflowContext := workflow.Context{
		ActivityContext: activityContext,
		Config:          workflow.ConfigFromEnv(),
	}

	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.SyncQueue,
		worker.Options{
			MaxConcurrentWorkflowTaskPollers:       utils.EnvInt("WORKER_WORKFLOW_POLLERS", 4),
			MaxConcurrentActivityTaskPollers:       utils.EnvInt("WORKER_ACTIVITY_POLLERS", 8),
			MaxConcurrentActivityExecutionSize:     utils.EnvInt("WORKER_MAX_ACTIVITIES", 64),
			MaxConcurrentWorkflowTaskExecutionSize: utils.EnvInt("WORKER_MAX_WORKFLOW_TASKS", 128),
			WorkerStopTimeout:                      time.Minute,
		},
	)
	wkr.RegisterWorkflowWithOptions(
		workflowContext.SyncProfileWorkflow,
		temporalworkflow.RegisterOptions{Name: profilesync.SyncProfileWorkflowName},
	)
	wkr.RegisterWorkflowWithOptions(
		workflowContext.SweepProfilesWorkflow,
		temporalworkflow.RegisterOptions{Name: profilesync.SweepProfilesWorkflowName},
	)
	wkr.RegisterActivity(activityContext.SyncProfile)
	wkr.RegisterActivity(activityContext.RedeliverNotifications)
	wkr.RegisterActivity(activityContext.GetProfileCount)
	wkr.RegisterActivity(activityContext.StartProfileSyncBatch)

	var consumer *redis.StreamConsumer
	if redisClient != nil {
		consumerName := utils.Env("WORKER_ID", "")
		if consumerName == "" {
			consumerName, _ = os.Hostname()
		}
		consumer, err = redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
			Stream:   redis.SyncRequestStream,
			Group:    redis.SyncRequestGroup,
			Consumer: consumerName,
			Logger:   logger.Named("stream"),
		})
		if err != nil {
			logger.Fatal("Unable to create sync request consumer", zap.Error(err))
		}
	}

	checks := map[string]ReadyCheck{
		"store": store.Ping,
		"temporal": func(ctx context.Context) error {
			_, err := temporalClient.Health(ctx)
			return err
		},
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	return &App{
		Worker:          wkr,
		TemporalClient:  temporalClient,
		Store:           store,
		RedisClient:     redisClient,
		Consumer:        consumer,
		ActivityContext: activityContext,
		Server: &http.Server{
			Addr:              utils.Env("ADDR", ":3001"),
			Handler:           NewOpsRouter(checks),
			ReadHeaderTimeout: 5 * time.Second,
		},
		Logger: logger,
	}
}
