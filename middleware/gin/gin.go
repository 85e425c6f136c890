// Package gin mounts webhook ingestion routes on a Gin router.
package gin

import (
	gongin "github.com/gin-gonic/gin"

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
// Gin's own middleware chain runs before the ingestion handler, so auth or
// logging middleware installed on the router applies to webhooks too.
func Register(router gongin.IRouter, cfg Config) {
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "/webhooks"
	}
	group := router.Group(prefix)
	for _, name := range cfg.Pipeline.Gateways() {
		h := ingest.NewHandler(cfg.Pipeline, name)
		handler := h.Router()
		if cfg.DisableRateLimit {
			handler = h
		}
		group.POST("/"+name, gongin.WrapH(handler))
	}
}
