package core

import (
	"sync"
	"time"
)

// ActiveTransfers tracks temporary files of uploads in progress, keyed by
// their full backend path. A nil *ActiveTransfers is empty and ignores writes.
type ActiveTransfers struct {
	// path -> start time
	records map[string]time.Time
	mu      sync.RWMutex
}

func NewActiveTransfers() *ActiveTransfers {
	return &ActiveTransfers{
		records: make(map[string]time.Time),
	}
}

func (a *ActiveTransfers) Add(path string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[path] = time.Now()
}

func (a *ActiveTransfers) Has(path string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.records[path]
	return ok
}

func (a *ActiveTransfers) Started(path string) (time.Time, bool) {
	if a == nil {
		return time.Time{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.records[path]
	return t, ok
}

func (a *ActiveTransfers) Remove(path string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, path)
}

func (a *ActiveTransfers) Len() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
