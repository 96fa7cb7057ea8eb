package directory

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/core"
)

// Memory каталог в памяти процесса. Записи старше TTL считаются мертвыми.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory создает каталог в памяти; ttl <= 0 отключает истечение записей
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Register сохраняет запись, обновляя UpdatedAt
func (m *Memory) Register(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.UpdatedAt = m.now()
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.UpdatedAt
	}
	m.entries[entry.Process] = entry
	return nil
}

// Deregister удаляет запись
func (m *Memory) Deregister(ctx context.Context, process string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[process]; !ok {
		return core.Errorf(core.ErrNotFound, "process %s is not registered", process)
	}
	delete(m.entries, process)
	return nil
}

// Lookup возвращает запись живого процесса
func (m *Memory) Lookup(ctx context.Context, process string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[process]
	if !ok || m.expired(entry) {
		return Entry{}, core.Errorf(core.ErrNotFound, "process %s is not registered", process)
	}
	return entry, nil
}

// List возвращает живые записи
func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if !m.expired(entry) {
			entries = append(entries, entry)
		}
	}
	sortEntries(entries)
	return entries, nil
}

// Close ничего не делает
func (m *Memory) Close() error { return nil }

func (m *Memory) expired(entry Entry) bool {
	return m.ttl > 0 && m.now().Sub(entry.UpdatedAt) > m.ttl
}

var _ Directory = (*Memory)(nil)
