package engine

import (
	"math"

	"github.com/pkg/errors"
)

// normalizeRates validates update and rewrites it into the orientation of the heap.
// Every pair with resident orders gets the quote in its own orientation, taken
// directly or as 1/rate of its inverse; a direct quote wins. Pairs with no
// resident orders in either orientation are dropped. The caller's map is left untouched.
func (s *ScheduledAccount) normalizeRates(update RateUpdate) (RateUpdate, error) {
	if len(update) == 0 {
		return nil, errors.Wrap(ErrMalformedRateUpdate, "rate update is empty")
	}
	for pair, rate := range update {
		if pair.IsZero() {
			return nil, errors.Wrapf(ErrMalformedRateUpdate, "pair %q has an empty currency", pair.String())
		}
		if pair.Base == pair.Quote {
			return nil, errors.Wrapf(ErrMalformedRateUpdate, "pair %s quotes a currency against itself", pair)
		}
		if err := validateRate(rate); err != nil {
			return nil, errors.Wrapf(err, "pair %s", pair)
		}
	}

	for pair, rate := range update {
		inverse, ok := update[pair.Inverse()]
		if !ok {
			continue
		}
		if math.Abs(rate*inverse-1) > s.tolerance {
			return nil, errors.Wrapf(ErrInconsistentRate, "%s=%v and %s=%v", pair, rate, pair.Inverse(), inverse)
		}
	}

	out := make(RateUpdate, len(update))
	for pair, rate := range update {
		if s.heap.Has(pair) {
			out[pair] = rate
		}
		inverse := pair.Inverse()
		if _, quoted := update[inverse]; !quoted && s.heap.Has(inverse) {
			out[inverse] = 1 / rate
		}
	}
	return out, nil
}
