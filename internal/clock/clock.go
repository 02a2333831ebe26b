package clock

import (
	"sync"
	"time"
)

// Clock позволяет подменять время в хранилищах и сервисах.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem возвращает часы на основе time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual: часы для тестов, время двигается только вручную.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual создаёт часы, начинающие с t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает время вперёд на d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
