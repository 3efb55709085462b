// Package memory keeps archived objects in memory for dev deployments and tests.
package memory

import (
	"context"
	"sync"
)

// Archiver stores objects in a map keyed by path.
type Archiver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Archiver.
func New() *Archiver {
	return &Archiver{objects: make(map[string][]byte)}
}

// PutObject stores a copy of data under path.
func (a *Archiver) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	a.objects[path] = buf
	return "mem://" + path, nil
}

// Object returns the stored bytes for path.
func (a *Archiver) Object(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	return data, ok
}

// Len reports how many objects are stored.
func (a *Archiver) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
