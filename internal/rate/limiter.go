package rate

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// Class is a route-class limit applied before a guarded handler runs.
type Class struct {
	Limit  int
	Window time.Duration
}

// Classifier maps a request to its admission limits. First match wins:
// auth routes, then creation routes, then the default class.
type Classifier struct {
	Auth    Class
	Create  Class
	Default Class
}

func (c Classifier) Classify(path, method string) Class {
	if strings.Contains(path, "auth") {
		return c.Auth
	}
	if method == http.MethodPost && (strings.Contains(path, "posts") || strings.Contains(path, "comments")) {
		return c.Create
	}
	return c.Default
}

// MemoryLimiter is a sliding-window-log limiter. Each key holds the
// timestamps of admitted requests inside the trailing window; checks prune,
// compare against the limit, then append. Entries for distinct keys never
// contend on the same lock.
type MemoryLimiter struct {
	mu    sync.RWMutex
	store map[string]*window
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*window)}
}

func (m *MemoryLimiter) Allow(key string, limit int, wnd time.Duration) (bool, time.Duration) {
	w := m.entry(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	start := now.Add(-wnd)

	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(start) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= limit {
		// Rejections are not recorded; the oldest kept timestamp decides
		// when capacity frees up.
		return false, w.timestamps[0].Add(wnd).Sub(now)
	}

	w.timestamps = append(w.timestamps, now)
	return true, 0
}

func (m *MemoryLimiter) entry(key string) *window {
	m.mu.RLock()
	w, ok := m.store[key]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.store[key]; ok {
		return w
	}
	w = &window{}
	m.store[key] = w
	return w
}
