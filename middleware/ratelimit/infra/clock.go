package infra

import (
	"sync"
	"time"
)

// SystemClock usa time.Now, que carrega leitura monotônica.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock só anda quando mandado. Útil para testes determinísticos.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set permite inclusive voltar o relógio (simula regressão).
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
