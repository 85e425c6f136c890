// Package fiber mounts webhook ingestion routes on a Fiber app.
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/tahseelhq/tahseel/pkg/payments/ingest"
)

// Config holds webhook mounting configuration.
type Config struct {
	// Pipeline is the ingestion pipeline (required).
	Pipeline *ingest.Pipeline

	// PathPrefix is the route prefix, default "/webhooks".
	PathPrefix string

	// DisableRateLimit skips the built-in per-IP limiter, for deployments
	// that rate limit at the edge.
	DisableRateLimit bool
}

// Register mounts POST {prefix}/{gateway} for every registered gateway.
// Fiber runs on fasthttp, so the net/http ingestion handler is bridged via
// the adaptor; the body copy it makes is bounded by the handler's own size
// limit.
func Register(app *fiber.App, cfg Config) {
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "/webhooks"
	}
	group := app.Group(prefix)
	for _, name := range cfg.Pipeline.Gateways() {
		h := ingest.NewHandler(cfg.Pipeline, name)
		handler := h.Router()
		if cfg.DisableRateLimit {
			handler = h
		}
		group.Post("/"+name, adaptor.HTTPHandler(handler))
	}
}
