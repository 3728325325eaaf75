package rules

import (
	"context"
	"sync"
	"time"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// MemoryRepository mantém as regras em memória (testes e STORE_BACKEND=memory)
type MemoryRepository struct {
	mu      sync.RWMutex
	rules   map[ruleID]Rule
	blocked map[numbers.Key]BlockedEntry
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules:   make(map[ruleID]Rule),
		blocked: make(map[numbers.Key]BlockedEntry),
		now:     time.Now,
	}
}

func (m *MemoryRepository) LoadSnapshot(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rs = append(rs, r)
	}
	bs := make([]BlockedEntry, 0, len(m.blocked))
	for _, b := range m.blocked {
		bs = append(bs, b)
	}
	return NewSnapshot(rs, bs, m.now()), nil
}

func (m *MemoryRepository) UpsertRule(_ context.Context, r Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Active = true
	r.UpdatedAt = m.now()
	m.rules[r.id()] = r
	return nil
}

func (m *MemoryRepository) DeactivateRule(_ context.Context, t RuleType, c numbers.Category, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ruleID{Type: t, Category: c, Number: number}
	r, ok := m.rules[id]
	if !ok || !r.Active {
		return false, nil
	}
	r.Active = false
	r.UpdatedAt = m.now()
	m.rules[id] = r
	return true, nil
}

func (m *MemoryRepository) UpsertBlocked(_ context.Context, entries []BlockedEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		prev, ok := m.blocked[e.Key]
		if ok {
			e.CreatedAt = prev.CreatedAt
		} else {
			e.CreatedAt = m.now()
		}
		e.Active = true
		m.blocked[e.Key] = e
	}
	return len(entries), nil
}

func (m *MemoryRepository) DeactivateBlocked(_ context.Context, keys []numbers.Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		b, ok := m.blocked[k]
		if !ok || !b.Active {
			continue
		}
		b.Active = false
		m.blocked[k] = b
		n++
	}
	return n, nil
}
