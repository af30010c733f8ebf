package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	// SyncRequestStream carries on-demand "synchronize profile N" requests.
	SyncRequestStream = "zorro:sync-requests"
	// SyncRequestGroup is the worker consumer group on SyncRequestStream.
	SyncRequestGroup = "zorro-workers"

	// ProfileUpdatedPattern matches every ProfileUpdatedChannel.
	ProfileUpdatedPattern = "zorro:profile:*:updated"
	ProfileUpdatedEvent   = "profile.updated"
)

// ProfileUpdatedChannel is the Pub/Sub channel for one profile's sync results.
func ProfileUpdatedChannel(profileID uint64) string {
	return fmt.Sprintf("zorro:profile:%d:updated", profileID)
}

// ProfileUpdate is published after every sync pass that reached the cache.
type ProfileUpdate struct {
	Event       string    `json:"event"`
	ProfileID   uint64    `json:"profileId"`
	Status      string    `json:"status"`
	Verified    bool      `json:"verified"`
	Transitions []string  `json:"transitions,omitempty"`
	SyncedAt    time.Time `json:"syncedAt"`
}

// PublishProfileUpdate is best-effort like Publish.
func (c *Client) PublishProfileUpdate(ctx context.Context, update ProfileUpdate) {
	if update.Event == "" {
		update.Event = ProfileUpdatedEvent
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	c.Publish(ctx, ProfileUpdatedChannel(update.ProfileID), payload)
}

// EnqueueSync appends a sync request for profileID and returns the entry id.
func (c *Client) EnqueueSync(ctx context.Context, profileID uint64, source string) (string, error) {
	return c.XAdd(ctx, SyncRequestStream, map[string]any{
		"profile_id": strconv.FormatUint(profileID, 10),
		"source":     source,
	})
}
