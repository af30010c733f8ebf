package controller

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileIDFromChannel(t *testing.T) {
	assert.Equal(t, "42", ProfileIDFromChannel("zorro:profile:42:updated"))
	assert.Equal(t, "", ProfileIDFromChannel("zorro:profile:42"))
	assert.Equal(t, "", ProfileIDFromChannel("other:profile:42:updated"))
	assert.Equal(t, "", ProfileIDFromChannel("zorro:profile:42:deleted"))
}

func TestSubscriptions(t *testing.T) {
	subs := NewSubscriptions()
	assert.False(t, subs.IsSubscribed("1"))

	subs.Subscribe("1")
	assert.True(t, subs.IsSubscribed("1"))
	assert.False(t, subs.IsSubscribed("2"))

	subs.Subscribe("*")
	assert.True(t, subs.IsSubscribed("2"))

	subs.Unsubscribe("*")
	subs.Unsubscribe("1")
	assert.False(t, subs.IsSubscribed("1"))
}

func TestValidSubscriptionTarget(t *testing.T) {
	assert.True(t, validSubscriptionTarget("*"))
	assert.True(t, validSubscriptionTarget("12"))
	assert.False(t, validSubscriptionTarget("0"))
	assert.False(t, validSubscriptionTarget("-1"))
	assert.False(t, validSubscriptionTarget("abc"))
}

func TestForwardProfileUpdatesFiltersBySubscription(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subs := NewSubscriptions()
	subs.Subscribe("2")

	ch := make(chan *goredis.Message, 4)
	ch <- &goredis.Message{Channel: "zorro:profile:1:updated", Payload: `{"event":"profile.updated","profileId":1}`}
	ch <- &goredis.Message{Channel: "zorro:profile:2:updated", Payload: `not json`}
	ch <- &goredis.Message{Channel: "zorro:profile:2:updated", Payload: `{"event":"profile.updated","profileId":2,"status":"CHALLENGED"}`}
	close(ch)

	send := make(chan ServerMessage, 4)
	require.NoError(t, forwardProfileUpdates(ctx, ch, send, subs))
	close(send)

	var got []ServerMessage
	for m := range send {
		got = append(got, m)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "profile.updated", got[0].Type)
}

func TestNextBackoff(t *testing.T) {
	b := time.Second
	for range 10 {
		next := NextBackoff(b, 30*time.Second)
		assert.GreaterOrEqual(t, next, b)
		assert.LessOrEqual(t, next, 30*time.Second)
		b = next
	}
	assert.Equal(t, 30*time.Second, NextBackoff(30*time.Second, 30*time.Second))
}
