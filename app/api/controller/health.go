package controller

import (
	"context"
	"net/http"
	"time"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := map[string]string{"store": "ok", "redis": "disabled"}
	code := http.StatusOK
	if err := c.App.Store.Ping(ctx); err != nil {
		out["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if c.App.RedisClient != nil {
		out["redis"] = "ok"
		if err := c.App.RedisClient.Health(ctx); err != nil {
			out["redis"] = err.Error()
		}
	}
	writeJSON(w, code, out)
}
