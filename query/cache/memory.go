package cache

import (
	"context"
	"sync"
	"time"
)

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// MemoryStore is an in-process LRU store with per-entry expiry.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]*memoryNode
	cap   int
	head  *memoryNode
	tail  *memoryNode
	stats Stats
	locks map[string]time.Time
	now   func() time.Time
}

// memoryNode is a node in the recency list; head is most recently used.
type memoryNode struct {
	key   string
	entry Entry
	prev  *memoryNode
	next  *memoryNode
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1000
	}
	return &MemoryStore{
		data:  make(map[string]*memoryNode),
		cap:   capacity,
		locks: make(map[string]time.Time),
		now:   time.Now,
		stats: Stats{MaxSize: capacity},
	}
}

// Get retrieves an entry, dropping it if it has expired.
func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.data[key]
	if !ok {
		m.stats.Misses++
		return Entry{}, false, nil
	}
	if node.entry.Expired(m.now()) {
		m.remove(node)
		m.stats.Misses++
		return Entry{}, false, nil
	}
	m.moveToFront(node)
	m.stats.Hits++
	return node.entry, true, nil
}

// Put stores an entry, evicting the least recently used one when full.
func (m *MemoryStore) Put(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.data[key]; ok {
		node.entry = entry
		m.moveToFront(node)
		return nil
	}
	if len(m.data) >= m.cap && m.tail != nil {
		m.remove(m.tail)
		m.stats.Evictions++
	}
	node := &memoryNode{key: key, entry: entry}
	m.addToFront(node)
	m.data[key] = node
	return nil
}

func (m *MemoryStore) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.data[key]; ok {
		m.remove(node)
	}
	return nil
}

// Flush removes every entry and resets the statistics.
func (m *MemoryStore) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*memoryNode)
	m.head, m.tail = nil, nil
	m.stats = Stats{MaxSize: m.cap}
	return nil
}

// SetClock replaces the time source used for expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Stats returns a snapshot of the statistics.
func (m *MemoryStore) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = len(m.data)
	return s
}

func (m *MemoryStore) addToFront(node *memoryNode) {
	node.prev = nil
	node.next = m.head
	if m.head != nil {
		m.head.prev = node
	}
	m.head = node
	if m.tail == nil {
		m.tail = node
	}
}

func (m *MemoryStore) unlink(node *memoryNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		m.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		m.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (m *MemoryStore) moveToFront(node *memoryNode) {
	if node == m.head {
		return
	}
	m.unlink(node)
	m.addToFront(node)
}

func (m *MemoryStore) remove(node *memoryNode) {
	m.unlink(node)
	delete(m.data, node.key)
}

// Lock returns an in-process lock; holds expire after lease.
func (m *MemoryStore) Lock(name string, lease time.Duration) Lock {
	return &memoryLock{store: m, name: name, lease: lease}
}

type memoryLock struct {
	store *MemoryStore
	name  string
	lease time.Duration
	until time.Time
}

func (l *memoryLock) TryAcquire() (bool, error) {
	m := l.store
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, held := m.locks[l.name]; held && now.Before(until) {
		return false, nil
	}
	l.until = now.Add(l.lease)
	m.locks[l.name] = l.until
	return true, nil
}

func (l *memoryLock) Release() error {
	m := l.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, held := m.locks[l.name]; held && until.Equal(l.until) {
		delete(m.locks, l.name)
	}
	return nil
}
