package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelist/internal/config"
	nverrors "github.com/vampirenirmal/novelist/pkg/novelist/errors"
)

// Router resolves agent roles to constructed providers using the
// project's routing table. Constructed clients are cached per provider
// name so agents routed to the same backend share one client.
type Router struct {
	cfg    *config.ProjectConfig
	opts   []Option
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Provider
}

func NewRouter(cfg *config.ProjectConfig, opts ...Option) *Router {
	return &Router{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "provider_router"),
		cache:  make(map[string]Provider),
	}
}

// GetProvider returns the provider an agent role is routed to,
// constructing and caching it on first use.
func (r *Router) GetProvider(agent string) (Provider, error) {
	name, entry, err := r.cfg.ProviderFor(agent)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	p, err := New(entry, r.opts...)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("provider constructed",
		"agent", agent,
		"provider", name,
		"type", p.Type(),
		"model", p.Model())

	r.cache[name] = p
	return p, nil
}

// Capability tags understood by RouteByCapability.
const (
	CapJSONMode  = "json_mode"
	CapTools     = "tools"
	CapThinking  = "thinking"
	CapStreaming = "streaming"
)

func meetsCapabilities(caps Capabilities, required []string) bool {
	for _, tag := range required {
		switch tag {
		case CapJSONMode:
			if !caps.SupportsJSONMode {
				return false
			}
		case CapTools:
			if !caps.SupportsTools {
				return false
			}
		case CapThinking:
			if !caps.SupportsThinkingMode {
				return false
			}
		case CapStreaming:
			if !caps.SupportsStreaming {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// RouteByCapability returns the first configured provider (by name
// order) meeting every required capability tag, falling back to the
// default provider when none qualifies.
func (r *Router) RouteByCapability(required []string) (Provider, error) {
	names := make([]string, 0, len(r.cfg.Provider.Available))
	for name := range r.cfg.Provider.Available {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := r.providerByName(name)
		if err != nil {
			r.logger.Warn("skipping provider during capability routing",
				"provider", name,
				"error", err)
			continue
		}
		if meetsCapabilities(p.Capabilities(), required) {
			return p, nil
		}
	}

	r.logger.Debug("no provider meets required capabilities, using default",
		"required", required)
	return r.providerByName(r.cfg.Provider.Default)
}

func (r *Router) providerByName(name string) (Provider, error) {
	entry, ok := r.cfg.Provider.Available[name]
	if !ok {
		return nil, &nverrors.ConfigError{
			Field:   "provider.available",
			Message: fmt.Sprintf("provider %q is not configured", name),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	p, err := New(entry, r.opts...)
	if err != nil {
		return nil, err
	}
	r.cache[name] = p
	return p, nil
}

// ProviderInfo is a status row for one configured provider.
type ProviderInfo struct {
	Type         string       `json:"type,omitempty"`
	Model        string       `json:"model,omitempty"`
	Capabilities Capabilities `json:"capabilities,omitempty"`
	Healthy      bool         `json:"healthy"`
	Error        string       `json:"error,omitempty"`
}

// GetAllProviders reports type, model, capabilities and health for
// every configured provider. Construction failures become error rows
// instead of failing the whole listing.
func (r *Router) GetAllProviders(ctx context.Context) map[string]ProviderInfo {
	out := make(map[string]ProviderInfo, len(r.cfg.Provider.Available))

	for name := range r.cfg.Provider.Available {
		p, err := r.providerByName(name)
		if err != nil {
			out[name] = ProviderInfo{Error: err.Error()}
			continue
		}
		out[name] = ProviderInfo{
			Type:         p.Type(),
			Model:        p.Model(),
			Capabilities: p.Capabilities(),
			Healthy:      p.Healthcheck(ctx),
		}
	}

	return out
}

// HealthcheckAll probes every configured provider concurrently.
// Providers that fail to construct report unhealthy.
func (r *Router) HealthcheckAll(ctx context.Context) map[string]bool {
	var (
		mu  sync.Mutex
		out = make(map[string]bool, len(r.cfg.Provider.Available))
	)

	g, ctx := errgroup.WithContext(ctx)
	for name := range r.cfg.Provider.Available {
		name := name
		g.Go(func() error {
			healthy := false
			if p, err := r.providerByName(name); err == nil {
				healthy = p.Healthcheck(ctx)
			}
			mu.Lock()
			out[name] = healthy
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return out
}
