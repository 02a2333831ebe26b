package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/drafts/internal/clock"
	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Timeline: in-memory аудит-журнал черновиков.
type Timeline struct {
	mu       sync.RWMutex
	clock    clock.Clock
	sessions map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт журнал на системных часах.
func NewTimelineRepository() *Timeline {
	return NewTimelineWithClock(clock.NewSystem())
}

// NewTimelineWithClock создаёт журнал с заданным источником времени.
func NewTimelineWithClock(c clock.Clock) *Timeline {
	return &Timeline{clock: c, sessions: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие с сохранением хронологии; при равном времени
// новое событие идёт после уже записанных.
func (t *Timeline) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.SessionID == "" || event.Type == "" {
		return domain.ErrTimelineEventInvalid
	}
	if event.Occurred.IsZero() {
		event.Occurred = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.sessions[event.SessionID]
	at := len(events)
	for at > 0 && events[at-1].Occurred.After(event.Occurred) {
		at--
	}
	t.sessions[event.SessionID] = slices.Insert(events, at, event)
	return nil
}

func (t *Timeline) List(_ context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.sessions[sessionID]), nil
}

var _ domain.TimelineRepository = (*Timeline)(nil)
