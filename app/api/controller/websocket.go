package controller

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/websocket"
	"github.com/paul-bdio/zorro/pkg/redis"
	"github.com/puzpuzpuz/xsync/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientMessage is sent by WebSocket clients.
type ClientMessage struct {
	Action    string `json:"action"`    // "subscribe" or "unsubscribe"
	ProfileID string `json:"profileId"` // profile id, or "*" for every profile
}

// ServerMessage is sent to WebSocket clients.
type ServerMessage struct {
	Type    string `json:"type"` // "profile.updated", "subscribed", "unsubscribed", "info", "error"
	Payload any    `json:"payload"`
}

// Subscriptions tracks the profiles one client follows.
type Subscriptions struct {
	profiles *xsync.Map[string, struct{}]
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{profiles: xsync.NewMap[string, struct{}]()}
}

func (s *Subscriptions) Subscribe(profileID string)   { s.profiles.Store(profileID, struct{}{}) }
func (s *Subscriptions) Unsubscribe(profileID string) { s.profiles.Delete(profileID) }

// IsSubscribed reports whether profileID is followed. "*" matches every profile.
func (s *Subscriptions) IsSubscribed(profileID string) bool {
	if _, ok := s.profiles.Load("*"); ok {
		return true
	}
	_, ok := s.profiles.Load(profileID)
	return ok
}

// ProfileIDFromChannel extracts the id from "zorro:profile:<id>:updated".
func ProfileIDFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "zorro" || parts[1] != "profile" || parts[3] != "updated" {
		return ""
	}
	return parts[2]
}

func validSubscriptionTarget(id string) bool {
	if id == "*" {
		return true
	}
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n > 0
}

// HandleWebSocket streams profile updates.
//
// Client sends:
//
//	{"action": "subscribe", "profileId": "12"}
//	{"action": "subscribe", "profileId": "*"}
//	{"action": "unsubscribe", "profileId": "12"}
//
// Server sends {"type": "profile.updated", "payload": {...}} for every followed profile
// whose cache changed, plus acknowledgements and errors.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	logger := c.App.Logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.subscribeToRedis(ctx, logger, send, subs)
	}()
	go func() {
		defer wg.Done()
		sendPings(ctx, conn, logger)
	}()
	go func() {
		defer wg.Done()
		writeMessages(conn, send, cancel, logger)
	}()

	readClientMessages(ctx, conn, cancel, subs, send, logger)

	cancel()
	wg.Wait()
	logger.Info("WebSocket client disconnected")
}

// subscribeToRedis forwards profile update events to send until ctx ends, reconnecting
// with jittered exponential backoff when the subscription drops. It closes send on return.
func (c *Controller) subscribeToRedis(ctx context.Context, logger *zap.Logger, send chan<- ServerMessage, subs *Subscriptions) {
	defer close(send)

	const (
		initialBackoff = time.Second
		maxBackoff     = 30 * time.Second
	)
	backoff := initialBackoff

	for attempt := 1; ctx.Err() == nil; attempt++ {
		err := c.attemptRedisSubscription(ctx, send, subs)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Redis subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case send <- ServerMessage{Type: "error", Payload: map[string]any{
			"message":     "event stream interrupted, reconnecting",
			"retryIn":     backoff.Seconds(),
			"recoverable": true,
		}}:
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = NextBackoff(backoff, maxBackoff)
	}
}

func (c *Controller) attemptRedisSubscription(ctx context.Context, send chan<- ServerMessage, subs *Subscriptions) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, redis.ProfileUpdatedPattern)
	defer func() { _ = pubsub.Close() }()

	receiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	select {
	case send <- ServerMessage{Type: "info", Payload: map[string]string{"message": "event stream connected"}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return forwardProfileUpdates(ctx, pubsub.Channel(), send, subs)
}

// forwardProfileUpdates relays messages for followed profiles. It returns nil when ch closes.
func forwardProfileUpdates(ctx context.Context, ch <-chan *goredis.Message, send chan<- ServerMessage, subs *Subscriptions) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id := ProfileIDFromChannel(msg.Channel)
			if id == "" || !subs.IsSubscribed(id) {
				continue
			}
			var update redis.ProfileUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case send <- ServerMessage{Type: redis.ProfileUpdatedEvent, Payload: update}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// NextBackoff doubles current up to maxBackoff with 10% jitter, never going below current.
func NextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := min(current*2, maxBackoff)
	jitter := float64(next) * 0.1 * (2*rand.Float64() - 1)
	return min(max(time.Duration(float64(next)+jitter), current), maxBackoff)
}

// sendPings keeps the connection alive; pongs extend the read deadline.
func sendPings(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages is the only writer of data frames on conn.
func writeMessages(conn *websocket.Conn, send <-chan ServerMessage, cancel context.CancelFunc, logger *zap.Logger) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Failed to write WebSocket message", zap.Error(err))
			cancel()
			// Drain so the Redis goroutine never blocks on a dead client.
			for range send {
			}
			return
		}
	}
}

func readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *Subscriptions, send chan<- ServerMessage, logger *zap.Logger) {
	const readTimeout = 60 * time.Second
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	reply := func(m ServerMessage) {
		select {
		case send <- m:
		case <-ctx.Done():
		}
	}

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Action {
		case "subscribe", "unsubscribe":
			if !validSubscriptionTarget(msg.ProfileID) {
				reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "profileId must be a profile id or *"}})
				continue
			}
			if msg.Action == "subscribe" {
				subs.Subscribe(msg.ProfileID)
				reply(ServerMessage{Type: "subscribed", Payload: map[string]string{"profileId": msg.ProfileID}})
			} else {
				subs.Unsubscribe(msg.ProfileID)
				reply(ServerMessage{Type: "unsubscribed", Payload: map[string]string{"profileId": msg.ProfileID}})
			}
		default:
			reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
