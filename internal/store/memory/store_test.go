package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/visawatch/visawatch/internal/monitor"
)

func TestGetEntity(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutEntity(monitor.Entity{ID: 1, CountryCode: "CZ", Active: true})

	e, err := s.GetEntity(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "CZ", e.CountryCode)

	_, err = s.GetEntity(context.Background(), 2)
	require.ErrorIs(t, err, monitor.ErrEntityNotFound)
}

func TestListActiveEntities(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutEntity(monitor.Entity{ID: 3, Active: true})
	s.PutEntity(monitor.Entity{ID: 1, Active: true})
	s.PutEntity(monitor.Entity{ID: 2, Active: false})

	entities, err := s.ListActiveEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	require.Equal(t, int64(1), entities[0].ID)
	require.Equal(t, int64(3), entities[1].ID)
}

func TestRecordPoll(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutEntity(monitor.Entity{ID: 1, Active: true, LatestStatus: monitor.StatusProcessing})

	now := time.Unix(1700000000, 0).UTC()
	err := s.RecordPoll(context.Background(),
		monitor.QueryLogRecord{ID: "log-1", EntityID: 1, Kind: monitor.OutcomeSuccess, Status: monitor.StatusApproved},
		&monitor.EntityUpdate{
			EntityID:         1,
			LatestStatus:     monitor.StatusApproved,
			LatestDetails:    "approved",
			LastChecked:      now,
			LastStatusChange: &now,
		})
	require.NoError(t, err)

	e, err := s.GetEntity(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, monitor.StatusApproved, e.LatestStatus)
	require.NotNil(t, e.LastChecked)
	require.Equal(t, now, *e.LastStatusChange)
	require.Len(t, s.Logs(), 1)
}

func TestRecordPollMissingEntityWritesNothing(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.RecordPoll(context.Background(),
		monitor.QueryLogRecord{ID: "log-1", EntityID: 404},
		&monitor.EntityUpdate{EntityID: 404})
	require.ErrorIs(t, err, monitor.ErrEntityNotFound)
	require.Empty(t, s.Logs())
}

func TestRecordPollLogOnlyKeepsEntity(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutEntity(monitor.Entity{ID: 1, Active: true, LatestStatus: monitor.StatusProcessing})

	err := s.RecordPoll(context.Background(),
		monitor.QueryLogRecord{ID: "log-1", EntityID: 1, Kind: monitor.OutcomeError, ErrText: "boom"}, nil)
	require.NoError(t, err)

	e, err := s.GetEntity(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, monitor.StatusProcessing, e.LatestStatus)
	require.Nil(t, e.LastChecked)
}
