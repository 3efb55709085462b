// Package engine executes polls: it runs the country query, persists the
// attempt, detects status transitions and fans out notifications.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/metrics"
	"github.com/visawatch/visawatch/internal/monitor"
)

const defaultQueryTimeout = 30 * time.Second

// Config tunes the engine's handling of edge results.
type Config struct {
	// QueryTimeout bounds a single remote query.
	QueryTimeout time.Duration
	// AcceptSimulated lets simulated results drive entity state and
	// notifications, matching demo deployments without a reachable site.
	AcceptSimulated bool
	// NotifyInitial emits a notification for the first observed status of a
	// freshly registered entity.
	NotifyInitial bool
}

// Engine implements monitor.Poller on top of a querier and an entity store.
type Engine struct {
	cfg      Config
	querier  monitor.Querier
	store    monitor.EntityStore
	notifier monitor.Notifier
	archiver monitor.Archiver
	clock    monitor.Clock
	logger   *zap.Logger
}

// New constructs an Engine. The notifier and archiver are optional.
func New(cfg Config, querier monitor.Querier, store monitor.EntityStore, notifier monitor.Notifier, archiver monitor.Archiver, clock monitor.Clock, logger *zap.Logger) *Engine {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		querier:  querier,
		store:    store,
		notifier: notifier,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
	}
}

// ValidateParameters checks registration input before an entity is created.
// Checks run in order: country support, query type, code format.
func (e *Engine) ValidateParameters(countryCode string, code string, queryType string) error {
	country := strings.ToUpper(countryCode)
	if !e.querier.IsSupported(country) {
		return fmt.Errorf("unsupported country: %s", country)
	}
	supported := false
	for _, qt := range e.querier.QueryTypes(country) {
		if qt == queryType {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported query type %q for country %s", queryType, country)
	}
	if !e.querier.Validate(country, code, queryType) {
		return fmt.Errorf("invalid code format for query type %q", queryType)
	}
	return nil
}

// Poll loads the entity and executes one poll cycle for it. Inactive entities
// are skipped without touching the store or the remote site.
func (e *Engine) Poll(ctx context.Context, entityID int64) error {
	entity, err := e.store.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load entity %d: %w", entityID, err)
	}
	if !entity.Active {
		e.logger.Debug("skipping inactive entity", zap.Int64("entity_id", entityID))
		return nil
	}
	_, err = e.Execute(ctx, entity)
	return err
}

// Execute runs the remote query for an entity and persists the outcome. The
// attempt log and any entity update are written in one atomic store call, so
// every poll leaves exactly one log record and the entity is never updated
// without its log.
func (e *Engine) Execute(ctx context.Context, entity *monitor.Entity) (monitor.QueryResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	res := e.querier.Query(queryCtx, entity.CountryCode, entity.QueryCode, entity.QueryType)

	metrics.ObservePoll(entity.CountryCode, string(res.Kind), time.Duration(res.LatencyMS)*time.Millisecond)
	if res.Kind == monitor.OutcomeSimulated {
		metrics.ObserveSimulated(entity.CountryCode)
	}

	update, change := e.planUpdate(entity, res)

	rec := monitor.QueryLogRecord{
		ID:         uuid.NewString(),
		EntityID:   entity.ID,
		Kind:       res.Kind,
		Status:     res.Status,
		Details:    res.Details,
		ErrText:    res.Err,
		RawExcerpt: res.RawExcerpt,
		LatencyMS:  res.LatencyMS,
		Timestamp:  e.clock.Now(),
	}
	if err := e.store.RecordPoll(ctx, rec, update); err != nil {
		metrics.ObservePersistFailure()
		return res, fmt.Errorf("record poll for entity %d: %w", entity.ID, err)
	}

	e.archive(ctx, entity, res)

	if change != nil {
		metrics.ObserveStatusChange(string(change.NewStatus))
		e.logger.Info("status change detected",
			zap.Int64("entity_id", entity.ID),
			zap.String("old_status", string(change.OldStatus)),
			zap.String("new_status", string(change.NewStatus)),
		)
		e.notify(ctx, *change)
	}
	return res, nil
}

// planUpdate decides how a result affects the entity. Error results leave the
// entity untouched; so do simulated results unless the engine accepts them.
// The returned change is non-nil only when a notification should go out.
func (e *Engine) planUpdate(entity *monitor.Entity, res monitor.QueryResult) (*monitor.EntityUpdate, *monitor.StatusChange) {
	if res.Kind == monitor.OutcomeError {
		return nil, nil
	}
	if res.Kind == monitor.OutcomeSimulated && !e.cfg.AcceptSimulated {
		return nil, nil
	}

	now := e.clock.Now()
	update := &monitor.EntityUpdate{
		EntityID:      entity.ID,
		LatestStatus:  res.Status,
		LatestDetails: res.Details,
		LastChecked:   now,
	}

	if res.Status == entity.LatestStatus {
		return update, nil
	}

	update.LastStatusChange = &now

	initial := entity.LatestStatus == ""
	if initial && !e.cfg.NotifyInitial {
		return update, nil
	}
	return update, &monitor.StatusChange{
		EntityID:   entity.ID,
		OldStatus:  entity.LatestStatus,
		NewStatus:  res.Status,
		Details:    res.Details,
		OccurredAt: now,
	}
}

func (e *Engine) notify(ctx context.Context, change monitor.StatusChange) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, change); err != nil {
		e.logger.Error("notification failed",
			zap.Int64("entity_id", change.EntityID),
			zap.Error(err),
		)
	}
}

// archive stores the raw response excerpt, best effort. Archive failures are
// logged and never fail the poll.
func (e *Engine) archive(ctx context.Context, entity *monitor.Entity, res monitor.QueryResult) {
	if e.archiver == nil || res.RawExcerpt == "" {
		return
	}
	path := fmt.Sprintf("raw/%s/%d/%s.html",
		strings.ToLower(entity.CountryCode),
		entity.ID,
		e.clock.Now().Format("20060102T150405Z"),
	)
	if _, err := e.archiver.PutObject(ctx, path, "text/html", []byte(res.RawExcerpt)); err != nil {
		e.logger.Warn("raw response archive failed",
			zap.Int64("entity_id", entity.ID),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
