// Package plugin implements the country plugin registry and the safety
// decorator every plugin is invoked through.
package plugin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/monitor"
)

// SafeQuerier decorates a Plugin with validation, timing and error isolation.
// Callers never see a panic or a missing outcome from the wrapped plugin.
type SafeQuerier struct {
	plugin monitor.Plugin
	clock  monitor.Clock
	logger *zap.Logger
}

// NewSafeQuerier wraps a plugin.
func NewSafeQuerier(p monitor.Plugin, clock monitor.Clock, logger *zap.Logger) *SafeQuerier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafeQuerier{plugin: p, clock: clock, logger: logger}
}

// Plugin returns the wrapped plugin.
func (s *SafeQuerier) Plugin() monitor.Plugin {
	return s.plugin
}

// Query validates the code first (no network call on failure), runs the
// plugin query, attaches latency and converts any panic into an error result.
func (s *SafeQuerier) Query(ctx context.Context, code string, queryType string) (res monitor.QueryResult) {
	if !s.plugin.Validate(code, queryType) {
		return monitor.QueryResult{
			Kind:        monitor.OutcomeError,
			Err:         fmt.Sprintf("invalid query code format for type %s", queryType),
			CompletedAt: s.clock.Now(),
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("plugin query panicked",
				zap.String("country", s.plugin.CountryCode()),
				zap.Any("panic", r),
			)
			res = monitor.QueryResult{
				Kind:        monitor.OutcomeError,
				Err:         fmt.Sprintf("plugin failure: %v", r),
				LatencyMS:   time.Since(start).Milliseconds(),
				CompletedAt: s.clock.Now(),
			}
		}
	}()

	res = s.plugin.Query(ctx, code, queryType)
	res.LatencyMS = time.Since(start).Milliseconds()
	if res.CompletedAt.IsZero() {
		res.CompletedAt = s.clock.Now()
	}
	if res.Kind == "" {
		res.Kind = monitor.OutcomeError
		if res.Err == "" {
			res.Err = "plugin returned no outcome"
		}
	}

	s.logger.Debug("query completed",
		zap.String("country", s.plugin.CountryCode()),
		zap.String("outcome", string(res.Kind)),
		zap.Int64("latency_ms", res.LatencyMS),
	)
	return res
}
