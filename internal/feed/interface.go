package feed

import (
	"context"

	"github.com/pkg/errors"

	"order-scheduler/internal/engine"
)

// ErrExhausted is returned by a Source with no further ticks
var ErrExhausted = errors.New("rate feed exhausted")

// Source supplies one rate update per tick.
// A nil update with a nil error is a degraded tick: the clock advances without evaluation.
type Source interface {
	Next(ctx context.Context) (engine.RateUpdate, error)
}
