package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visawatch/visawatch/internal/monitor"
)

func TestSafeQueryRejectsInvalidCodeWithoutQuerying(t *testing.T) {
	t.Parallel()

	stub := newStub()
	stub.valid = false
	sq := NewSafeQuerier(stub, testClock(), zap.NewNop())

	res := sq.Query(context.Background(), "bad", "visa")
	require.Equal(t, monitor.OutcomeError, res.Kind)
	require.Contains(t, res.Err, "invalid query code format")
	require.Zero(t, stub.queries)
}

func TestSafeQueryAttachesLatencyAndCompletion(t *testing.T) {
	t.Parallel()

	stub := newStub()
	sq := NewSafeQuerier(stub, testClock(), zap.NewNop())

	res := sq.Query(context.Background(), "PRG123456789", "visa")
	require.Equal(t, monitor.OutcomeSuccess, res.Kind)
	require.False(t, res.CompletedAt.IsZero())
	require.GreaterOrEqual(t, res.LatencyMS, int64(0))
}

func TestSafeQueryRecoversPanic(t *testing.T) {
	t.Parallel()

	stub := newStub()
	stub.panicMsg = "boom"
	sq := NewSafeQuerier(stub, testClock(), zap.NewNop())

	res := sq.Query(context.Background(), "PRG123456789", "visa")
	require.Equal(t, monitor.OutcomeError, res.Kind)
	require.Contains(t, res.Err, "plugin failure: boom")
}

func TestSafeQueryFillsMissingOutcome(t *testing.T) {
	t.Parallel()

	stub := newStub()
	stub.result = monitor.QueryResult{}
	sq := NewSafeQuerier(stub, testClock(), zap.NewNop())

	res := sq.Query(context.Background(), "PRG123456789", "visa")
	require.Equal(t, monitor.OutcomeError, res.Kind)
	require.Equal(t, "plugin returned no outcome", res.Err)
}
