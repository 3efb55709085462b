// Package memory provides an in-memory entity store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/visawatch/visawatch/internal/monitor"
)

// Store implements monitor.EntityStore with a mutex-guarded map. RecordPoll
// holds the lock across the log append and the entity update, giving the same
// atomicity the Postgres store gets from a transaction.
type Store struct {
	mu       sync.Mutex
	entities map[int64]monitor.Entity
	logs     []monitor.QueryLogRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{entities: make(map[int64]monitor.Entity)}
}

// PutEntity inserts or replaces an entity. Used for seeding dev deployments
// and tests.
func (s *Store) PutEntity(e monitor.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
}

// GetEntity loads one entity by id.
func (s *Store) GetEntity(ctx context.Context, id int64) (*monitor.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, monitor.ErrEntityNotFound
	}
	return &e, nil
}

// ListActiveEntities returns active entities ordered by id.
func (s *Store) ListActiveEntities(ctx context.Context) ([]*monitor.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*monitor.Entity
	for _, e := range s.entities {
		if !e.Active {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordPoll appends the log record and applies the optional update.
func (s *Store) RecordPoll(ctx context.Context, rec monitor.QueryLogRecord, update *monitor.EntityUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update != nil {
		e, ok := s.entities[update.EntityID]
		if !ok {
			return monitor.ErrEntityNotFound
		}
		e.LatestStatus = update.LatestStatus
		e.LatestDetails = update.LatestDetails
		checked := update.LastChecked
		e.LastChecked = &checked
		if update.LastStatusChange != nil {
			changed := *update.LastStatusChange
			e.LastStatusChange = &changed
		}
		s.entities[update.EntityID] = e
	}

	s.logs = append(s.logs, rec)
	return nil
}

// Logs returns a copy of the recorded poll log.
func (s *Store) Logs() []monitor.QueryLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.QueryLogRecord, len(s.logs))
	copy(out, s.logs)
	return out
}
