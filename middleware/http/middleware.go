// Package http mounts webhook ingestion routes on a plain net/http mux.
package http

import (
	"net/http"
	"strings"

	"github.com/tahseelhq/tahseel/pkg/payments/ingest"
)

// Config holds webhook mounting configuration.
type Config struct {
	// Pipeline is the ingestion pipeline (required).
	Pipeline *ingest.Pipeline

	// PathPrefix is the route prefix, default "/webhooks".
	PathPrefix string

	// RateLimit disables the built-in per-IP limiter when false is
	// explicitly wanted; see DisableRateLimit.
	DisableRateLimit bool
}

// Handler returns an http.Handler serving POST {prefix}/{gateway} for every
// registered gateway. Unknown gateway paths get 404 without touching the
// pipeline.
func Handler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.PathPrefix)

	routes := make(map[string]http.Handler)
	for _, name := range cfg.Pipeline.Gateways() {
		h := ingest.NewHandler(cfg.Pipeline, name)
		if cfg.DisableRateLimit {
			routes[name] = h
		} else {
			routes[name] = h.Router()
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gateway := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		h, ok := routes[gateway]
		if !ok || strings.Contains(gateway, "/") {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Register mounts the webhook handler on a standard ServeMux.
func Register(mux *http.ServeMux, cfg Config) {
	prefix := normalizePrefix(cfg.PathPrefix)
	mux.Handle(prefix+"/", Handler(cfg))
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		prefix = "/webhooks"
	}
	return "/" + strings.Trim(prefix, "/")
}
