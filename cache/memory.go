package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	entries      map[string]*Entry
	history      map[string][]*Entry
	maxEntries   int
	historyLimit int
	retention    time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// NewMemory creates a Memory store holding at most maxEntries entries and
// historyLimit records per URL. A background goroutine runs every 5 minutes
// to evict entries older than retention.
func NewMemory(maxEntries, historyLimit int, retention time.Duration) *Memory {
	m := &Memory{
		entries:      make(map[string]*Entry),
		history:      make(map[string][]*Entry),
		maxEntries:   maxEntries,
		historyLimit: historyLimit,
		retention:    retention,
		done:         make(chan struct{}),
	}
	if retention > 0 {
		go m.cleanupLoop()
	}
	return m
}

func (m *Memory) Get(_ context.Context, identity string) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[identity]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Put stores e. If the store is at capacity the oldest entry is evicted.
func (m *Memory) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEntry(e)
	return nil
}

// Save stores e and appends it to its history under one lock.
func (m *Memory) Save(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEntry(e)
	m.appendHistory(e)
	return nil
}

func (m *Memory) putEntry(e *Entry) {
	cp := *e
	if _, exists := m.entries[e.Identity]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, v := range m.entries {
			if oldestKey == "" || v.CreatedAt.Before(oldest) {
				oldestKey, oldest = k, v.CreatedAt
			}
		}
		delete(m.entries, oldestKey)
	}
	m.entries[e.Identity] = &cp
}

func (m *Memory) Latest(_ context.Context, urlKey string, before time.Time) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.history[urlKey]
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if before.IsZero() || r.CreatedAt.Before(before) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Append keeps records ordered by creation time.
func (m *Memory) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistory(e)
	return nil
}

func (m *Memory) appendHistory(e *Entry) {
	cp := *e
	records := m.history[e.URLKey]
	i := len(records)
	for i > 0 && records[i-1].CreatedAt.After(cp.CreatedAt) {
		i--
	}
	records = append(records, nil)
	copy(records[i+1:], records[i:])
	records[i] = &cp
	if m.historyLimit > 0 && len(records) > m.historyLimit {
		records = records[len(records)-m.historyLimit:]
	}
	m.history[e.URLKey] = records
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.evictBefore(now.Add(-m.retention))
		}
	}
}

func (m *Memory) evictBefore(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(m.entries, k)
		}
	}
	for k, records := range m.history {
		i := 0
		for i < len(records) && records[i].CreatedAt.Before(cutoff) {
			i++
		}
		if i == len(records) {
			delete(m.history, k)
			continue
		}
		m.history[k] = records[i:]
	}
}
