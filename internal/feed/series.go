package feed

import (
	"context"
	"sync"

	"order-scheduler/internal/engine"
)

// Series replays a fixed sequence of updates. Nil entries are degraded ticks.
type Series struct {
	mu      sync.Mutex
	updates []engine.RateUpdate
	pos     int
}

func NewSeries(updates ...engine.RateUpdate) *Series {
	return &Series{updates: updates}
}

func (s *Series) Next(ctx context.Context) (engine.RateUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.updates) {
		return nil, ErrExhausted
	}
	u := s.updates[s.pos]
	s.pos++
	return u, nil
}

// Remaining returns how many ticks are left
func (s *Series) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates) - s.pos
}
