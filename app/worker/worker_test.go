package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paul-bdio/zorro/pkg/metrics"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingStarter struct {
	inputs []profilesync.SyncInput
	err    error
}

func (r *recordingStarter) StartProfileSync(_ context.Context, in profilesync.SyncInput) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.inputs = append(r.inputs, in)
	return "profile-sync:1", nil
}

func TestSyncRequestHandler(t *testing.T) {
	starter := &recordingStarter{}
	handle := SyncRequestHandler(starter, zaptest.NewLogger(t))

	require.NoError(t, handle(context.Background(), redis.Message{ID: "1-0", Values: map[string]any{"profile_id": "12", "source": "api"}}))
	require.NoError(t, handle(context.Background(), redis.Message{ID: "2-0", Values: map[string]any{"profileId": "13"}}))

	assert.Equal(t, []profilesync.SyncInput{
		{ProfileID: 12, Source: "api"},
		{ProfileID: 13, Source: "stream"},
	}, starter.inputs)
}

func TestSyncRequestHandlerAcksBadEntries(t *testing.T) {
	starter := &recordingStarter{}
	handle := SyncRequestHandler(starter, zaptest.NewLogger(t))

	require.NoError(t, handle(context.Background(), redis.Message{ID: "1-0", Values: map[string]any{"profile_id": "abc"}}))
	assert.Empty(t, starter.inputs)
}

func TestSyncRequestHandlerKeepsEntryPendingOnStartFailure(t *testing.T) {
	starter := &recordingStarter{err: errors.New("temporal unavailable")}
	handle := SyncRequestHandler(starter, zaptest.NewLogger(t))

	err := handle(context.Background(), redis.Message{ID: "1-0", Values: map[string]any{"profile_id": "5"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile 5")
}

func TestOpsRouter(t *testing.T) {
	metrics.Register()
	healthy := true
	r := NewOpsRouter(map[string]ReadyCheck{
		"store": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		},
	})

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.code, rec.Code, tc.path)
	}

	healthy = false
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store: connection refused")
}
