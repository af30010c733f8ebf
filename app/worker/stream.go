package worker

import (
	"context"
	"fmt"

	"github.com/paul-bdio/zorro/app/worker/activity"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"go.uber.org/zap"
)

// SyncRequestHandler turns sync-request stream entries into SyncProfileWorkflow starts.
// Entries without a usable profile id are logged and acknowledged.
func SyncRequestHandler(starter activity.WorkflowStarter, logger *zap.Logger) redis.MessageHandler {
	return func(ctx context.Context, msg redis.Message) error {
		id := msg.GetProfileID()
		if id == 0 {
			logger.Warn("Dropping sync request without profile id", zap.String("id", msg.ID), zap.Any("values", msg.Values))
			return nil
		}
		source, _ := msg.Values["source"].(string)
		if source == "" {
			source = "stream"
		}
		wfID, err := starter.StartProfileSync(ctx, profilesync.SyncInput{ProfileID: id, Source: source})
		if err != nil {
			return fmt.Errorf("start sync for profile %d: %w", id, err)
		}
		logger.Debug("Sync request dispatched",
			zap.Uint64("profile_id", id),
			zap.String("workflow_id", wfID),
			zap.String("source", source))
		return nil
	}
}
