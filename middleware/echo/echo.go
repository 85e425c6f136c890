// Package echo mounts webhook ingestion routes on an Echo router.
package echo

import (
	"github.com/labstack/echo/v4"

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

// Register mounts POST {prefix}/:gateway for every registered gateway.
func Register(e *echo.Echo, cfg Config) {
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "/webhooks"
	}
	group := e.Group(prefix)
	for _, name := range cfg.Pipeline.Gateways() {
		h := ingest.NewHandler(cfg.Pipeline, name)
		handler := h.Router()
		if cfg.DisableRateLimit {
			handler = h
		}
		group.POST("/"+name, echo.WrapHandler(handler))
	}
}
