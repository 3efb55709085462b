package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visawatch/visawatch/internal/monitor"
)

func TestNotifierRecordsChanges(t *testing.T) {
	t.Parallel()

	n := New()
	require.Empty(t, n.Changes())

	change := monitor.StatusChange{
		EntityID:  7,
		OldStatus: monitor.StatusProcessing,
		NewStatus: monitor.StatusApproved,
	}
	require.NoError(t, n.Notify(context.Background(), change))

	changes := n.Changes()
	require.Len(t, changes, 1)
	require.Equal(t, change, changes[0])
}
