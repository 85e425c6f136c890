package payments

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured gateway implementations for one tenant
// context and resolves them by name. Resolution is a pure lookup with a
// configuration-readiness check; a partially configured gateway fails fast
// here rather than deep inside a provider call.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	logger   Logger
}

// NewRegistry creates an empty gateway registry.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Registry{
		gateways: make(map[string]Gateway),
		logger:   logger,
	}
}

// Register adds a gateway implementation. Registering a second gateway under
// the same name is a wiring bug and fails.
func (r *Registry) Register(g Gateway) error {
	if g == nil || g.Name() == "" {
		return fmt.Errorf("gateway with empty name cannot be registered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if _, exists := r.gateways[name]; exists {
		return fmt.Errorf("gateway %q already registered", name)
	}
	r.gateways[name] = g

	r.logger.Info("gateway registered",
		Field{Key: "gateway", Value: name},
		Field{Key: "flow", Value: string(g.FlowType())},
	)
	return nil
}

// Resolve returns the configured gateway for the given name. Both an unknown
// name and a known-but-unconfigured gateway fail with
// CodeGatewayNotConfigured: from the caller's perspective each is a
// non-retryable operator configuration defect.
func (r *Registry) Resolve(name string) (Gateway, error) {
	r.mu.RLock()
	g, ok := r.gateways[name]
	r.mu.RUnlock()

	if !ok {
		return nil, NotConfigured(name)
	}
	if !g.IsConfigured() {
		r.logger.Warn("gateway resolved but not configured",
			Field{Key: "gateway", Value: name},
		)
		return nil, NotConfigured(name)
	}
	return g, nil
}

// Supports reports whether the named gateway is registered, configured, and
// implements the capability.
func (r *Registry) Supports(name string, c Capability) bool {
	g, err := r.Resolve(name)
	if err != nil {
		return false
	}
	return Supports(g, c)
}

// Names returns the registered gateway names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
