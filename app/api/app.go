package api

import (
	"context"

	"github.com/paul-bdio/zorro/app/api/types"
	"github.com/paul-bdio/zorro/pkg/db/backend"
	"github.com/paul-bdio/zorro/pkg/logging"
	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.uber.org/zap"
)

func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("api")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	metrics.Register()

	store, err := backend.Open(ctx, logger, "api")
	if err != nil {
		logger.Fatal("Unable to open store", zap.Error(err))
	}

	app := &types.App{Store: store, Logger: logger}

	// Redis carries sync requests and live profile events; without it both are disabled.
	if utils.EnvBool("REDIS_ENABLED", true) {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - sync requests and WebSocket events will be disabled",
				zap.Error(err))
		} else {
			app.RedisClient = redisClient
			app.SyncRequests = redisClient
		}
	} else {
		logger.Info("Redis disabled - sync requests and WebSocket events will not be available")
	}

	return app
}
