package rules

import (
	"sync"
	"time"
)

// Cache guarda o último snapshot por um TTL.
// Invalidate avança a geração; um carregamento iniciado antes dela é descartado.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	snap      *Snapshot
	expiresAt time.Time
	gen       uint64
}

// NewCache com ttl <= 0 desliga o cache (sempre recarrega)
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Get retorna o snapshot válido, se houver, e a geração atual
func (c *Cache) Get() (*Snapshot, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil || !c.now().Before(c.expiresAt) {
		return nil, c.gen, false
	}
	return c.snap, c.gen, true
}

// Put só aceita o snapshot se nenhuma invalidação ocorreu desde gen
func (c *Cache) Put(s *Snapshot, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.ttl <= 0 {
		return false
	}
	c.snap = s
	c.expiresAt = c.now().Add(c.ttl)
	return true
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.gen++
	c.mu.Unlock()
}
