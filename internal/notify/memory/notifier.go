// Package memory contains an in-memory notifier for dev deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/visawatch/visawatch/internal/monitor"
)

// Notifier records status changes for inspection.
type Notifier struct {
	mu      sync.RWMutex
	changes []monitor.StatusChange
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the change.
func (n *Notifier) Notify(_ context.Context, change monitor.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return nil
}

// Changes returns the recorded notifications.
func (n *Notifier) Changes() []monitor.StatusChange {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]monitor.StatusChange, len(n.changes))
	copy(out, n.changes)
	return out
}
