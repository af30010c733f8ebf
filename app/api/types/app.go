package types

import (
	"context"
	"net/http"
	"time"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/redis"
	"go.uber.org/zap"
)

// SyncRequester queues a sync of one profile. *redis.Client implements it.
type SyncRequester interface {
	EnqueueSync(ctx context.Context, profileID uint64, source string) (string, error)
}

type App struct {
	Store db.Store

	// Redis Client (sync requests and WebSocket profile events); nil when Redis is disabled
	RedisClient *redis.Client
	// SyncRequests is where POST /api/profiles/{id}/sync lands; nil disables the endpoint.
	SyncRequests SyncRequester

	Logger *zap.Logger
	Server *http.Server
}

// Start serves HTTP until ctx is cancelled, then shuts down.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()
	a.Stop()
}

// Stop drains the server and closes connections.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		_ = a.Server.Shutdown(shutdownCtx)
	}

	if a.RedisClient != nil {
		a.Logger.Info("closing redis connection")
		_ = a.RedisClient.Close()
	}
	if a.Store != nil {
		a.Logger.Info("closing store connection")
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close store", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
