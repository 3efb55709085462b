package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/visawatch/visawatch/internal/monitor"
)

// Factory constructs one plugin instance. Registration is an explicit table
// instead of runtime discovery; the process entry point owns the list.
type Factory func() (monitor.Plugin, error)

type entry struct {
	safe       *SafeQuerier
	descriptor monitor.PluginDescriptor
	limiter    *rate.Limiter
}

// Registry indexes plugin instances by country code. Lookups are read-mostly;
// reloads swap entries so readers never observe a partially built registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	entries   map[string]*entry
	clock     monitor.Clock
	logger    *zap.Logger
}

// NewRegistry builds a Registry from the factory table and instantiates every
// plugin. A factory that fails is logged and skipped; it does not prevent the
// remaining plugins from loading.
func NewRegistry(factories map[string]Factory, clock monitor.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory, len(factories)),
		entries:   make(map[string]*entry, len(factories)),
		clock:     clock,
		logger:    logger,
	}
	for code, factory := range factories {
		r.factories[strings.ToUpper(code)] = factory
	}
	for code := range r.factories {
		if !r.load(code) {
			continue
		}
	}
	r.logger.Info("plugins loaded",
		zap.Int("count", len(r.entries)),
		zap.Strings("countries", r.SupportedCountries()),
	)
	return r
}

// load instantiates the plugin for code and installs it. Callers outside the
// constructor must not hold the lock.
func (r *Registry) load(code string) bool {
	factory, ok := r.factories[code]
	if !ok {
		r.logger.Error("no factory for country", zap.String("country", code))
		return false
	}
	p, err := factory()
	if err != nil {
		r.logger.Error("plugin instantiation failed",
			zap.String("country", code),
			zap.Error(err),
		)
		return false
	}
	e := &entry{
		safe: NewSafeQuerier(p, r.clock, r.logger.Named("plugin."+strings.ToLower(code))),
		descriptor: monitor.PluginDescriptor{
			CountryCode: p.CountryCode(),
			CountryName: p.CountryName(),
			QueryTypes:  p.QueryTypeInfo(),
			RateLimit:   p.RateLimit(),
		},
		limiter: limiterFor(p.RateLimit()),
	}

	r.mu.Lock()
	next := make(map[string]*entry, len(r.entries)+1)
	for k, v := range r.entries {
		next[k] = v
	}
	next[strings.ToUpper(p.CountryCode())] = e
	r.entries = next
	r.mu.Unlock()
	return true
}

func limiterFor(policy monitor.RateLimitPolicy) *rate.Limiter {
	limit := rate.Inf
	if policy.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(policy.RequestsPerMinute) / 60.0)
	}
	burst := policy.MaxConcurrent
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

func (r *Registry) get(countryCode string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToUpper(countryCode)]
	return e, ok
}

// Get returns the plugin registered for the country code.
func (r *Registry) Get(countryCode string) (monitor.Plugin, bool) {
	e, ok := r.get(countryCode)
	if !ok {
		return nil, false
	}
	return e.safe.Plugin(), true
}

// IsSupported reports whether a plugin exists for the country code.
func (r *Registry) IsSupported(countryCode string) bool {
	_, ok := r.get(countryCode)
	return ok
}

// QueryTypes returns the query types the country's plugin accepts, or nil if
// the country is unsupported.
func (r *Registry) QueryTypes(countryCode string) []string {
	e, ok := r.get(countryCode)
	if !ok {
		return nil
	}
	return e.safe.Plugin().SupportedQueryTypes()
}

// Validate checks the code format against the country's plugin. Unsupported
// countries validate as false.
func (r *Registry) Validate(countryCode string, code string, queryType string) bool {
	e, ok := r.get(countryCode)
	if !ok {
		return false
	}
	return e.safe.Plugin().Validate(code, queryType)
}

// Query runs a safe query through the country's plugin, honoring its advisory
// rate limit. Unknown countries yield an error-kind result, never a panic.
func (r *Registry) Query(ctx context.Context, countryCode string, code string, queryType string) monitor.QueryResult {
	e, ok := r.get(countryCode)
	if !ok {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         fmt.Sprintf("no plugin available for country: %s", strings.ToUpper(countryCode)),
			CompletedAt: r.clock.Now(),
		}
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         fmt.Sprintf("rate limit wait: %v", err),
			CompletedAt: r.clock.Now(),
		}
	}
	return e.safe.Query(ctx, code, queryType)
}

// TestConnection probes the country's plugin. Unsupported countries are false.
func (r *Registry) TestConnection(ctx context.Context, countryCode string) bool {
	e, ok := r.get(countryCode)
	if !ok {
		return false
	}
	return e.safe.Plugin().TestConnection(ctx)
}

// TestAllConnections probes every registered plugin.
func (r *Registry) TestAllConnections(ctx context.Context) map[string]bool {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	results := make(map[string]bool, len(entries))
	for code, e := range entries {
		results[code] = e.safe.Plugin().TestConnection(ctx)
	}
	return results
}

// Reload re-instantiates the plugin for the country code in place. Queries
// already running against the old instance are allowed to complete.
func (r *Registry) Reload(countryCode string) bool {
	code := strings.ToUpper(countryCode)
	if _, ok := r.factories[code]; !ok {
		r.logger.Warn("reload requested for unknown country", zap.String("country", code))
		return false
	}
	if !r.load(code) {
		return false
	}
	r.logger.Info("plugin reloaded", zap.String("country", code))
	return true
}

// ReloadAll re-instantiates every plugin. Returns false if any reload failed.
func (r *Registry) ReloadAll() bool {
	ok := true
	for code := range r.factories {
		if !r.load(code) {
			ok = false
		}
	}
	return ok
}

// SupportedCountries returns the registered country codes, sorted.
func (r *Registry) SupportedCountries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.entries))
	for code := range r.entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Descriptor returns the immutable metadata for one country's plugin.
func (r *Registry) Descriptor(countryCode string) (monitor.PluginDescriptor, bool) {
	e, ok := r.get(countryCode)
	if !ok {
		return monitor.PluginDescriptor{}, false
	}
	return e.descriptor, true
}

// Stats aggregates registry metadata for operational surfaces.
func (r *Registry) Stats() monitor.RegistryStats {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	stats := monitor.RegistryStats{
		TotalPlugins: len(entries),
		Plugins:      make([]monitor.PluginDescriptor, 0, len(entries)),
	}
	for code, e := range entries {
		stats.SupportedCountries = append(stats.SupportedCountries, code)
		stats.Plugins = append(stats.Plugins, e.descriptor)
	}
	sort.Strings(stats.SupportedCountries)
	sort.Slice(stats.Plugins, func(i, j int) bool {
		return stats.Plugins[i].CountryCode < stats.Plugins[j].CountryCode
	})
	return stats
}
