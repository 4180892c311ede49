package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trailingTrigger(t *testing.T, s *ScheduledAccount) float64 {
	t.Helper()
	orders := s.Orders()
	require.Len(t, orders, 1)
	require.Equal(t, KindTrailingStopLoss, orders[0].Kind)
	return orders[0].TriggerPrice
}

// TestTrailingStopRatchetsFromPreviousRate pins the incremental ratchet:
// each rise moves the trigger by the gain relative to the last stored rate.
func TestTrailingStopRatchetsFromPreviousRate(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)

	conf, err := s.TrailingStopLoss(1.2, 10, 1.0, eurusd, 100, true, nil)
	require.NoError(t, err)
	assert.Equal(t, Pending, conf)
	assert.Equal(t, 1.2, s.Orders()[0].Options[OptionPrevRate])

	steps := []struct {
		rate    float64
		trigger float64
	}{
		{1.32, 1.1},
		{1.2, 1.1},
		{1.12, 1.1},
		{1.32, 1.1},
		{1.452, 1.21},
	}
	for _, step := range steps {
		_, err := s.Tick(rates(step.rate))
		require.NoError(t, err)
		assert.InDelta(t, step.trigger, trailingTrigger(t, s), 1e-12, "after rate %v", step.rate)
	}
	assert.Empty(t, acct.trades)

	_, err = s.Tick(rates(1.2))
	require.NoError(t, err)
	require.Len(t, acct.trades, 1)
	assert.Equal(t, 1.2, acct.trades[0].rate)
	assert.Equal(t, 0, s.PendingCount())
}

func TestTrailingStopPercentRatio(t *testing.T) {
	s := NewScheduledAccount(newMockAccount())

	_, err := s.TrailingStopLoss(1.2, 10, 1.0, eurusd, 100, true, nil)
	require.NoError(t, err)
	_, err = s.Tick(rates(1.4))
	require.NoError(t, err)
	assert.InDelta(t, 1.4/1.2, trailingTrigger(t, s), 1e-12)
}

func TestTrailingStopAbsoluteDistance(t *testing.T) {
	s := NewScheduledAccount(newMockAccount())

	_, err := s.TrailingStopLoss(1.2, 10, 1.0, eurusd, 100, false, nil)
	require.NoError(t, err)

	for _, r := range []float64{1.4, 1.3, 1.5} {
		_, err := s.Tick(rates(r))
		require.NoError(t, err)
	}
	// the dip to 1.3 leaves the reference rate at 1.4
	assert.InDelta(t, 1.3, trailingTrigger(t, s), 1e-12)
}

func TestTrailingTriggerNeverDecreases(t *testing.T) {
	s := NewScheduledAccount(newMockAccount())

	_, err := s.TrailingStopLoss(2.0, 1, 1.0, eurusd, 1000, true, nil)
	require.NoError(t, err)

	last := trailingTrigger(t, s)
	series := []float64{2.1, 1.9, 2.5, 2.4, 2.45, 3.0, 1.7, 2.2, 2.9, 3.3}
	for _, r := range series {
		_, err := s.Tick(rates(r))
		require.NoError(t, err)
		if s.PendingCount() == 0 {
			break
		}
		current := trailingTrigger(t, s)
		assert.GreaterOrEqual(t, current, last, "trigger dropped at rate %v", r)
		last = current
	}
}

func TestInvertedUpdateEvaluatesLikeDirect(t *testing.T) {
	direct := newMockAccount()
	inverted := newMockAccount()
	a := NewScheduledAccount(direct)
	b := NewScheduledAccount(inverted)

	for _, s := range []*ScheduledAccount{a, b} {
		_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
		require.NoError(t, err)
		_, err = s.TrailingStopLoss(1.10, 5, 0.90, eurusd, 10, true, nil)
		require.NoError(t, err)
	}

	usdeur := eurusd.Inverse()
	for _, r := range []float64{0.8, 0.85, 1.02, 1.2} {
		_, err := a.Tick(RateUpdate{eurusd: 1 / r})
		require.NoError(t, err)
		_, err = b.Tick(RateUpdate{usdeur: r})
		require.NoError(t, err)
	}

	require.Len(t, inverted.trades, len(direct.trades))
	for i := range direct.trades {
		assert.Equal(t, direct.trades[i].pair, inverted.trades[i].pair)
		assert.InDelta(t, direct.trades[i].rate, inverted.trades[i].rate, 1e-12)
		assert.Equal(t, direct.trades[i].clock, inverted.trades[i].clock)
	}
	assert.Equal(t, len(a.Orders()), len(b.Orders()))
}

func TestInconsistentBothOrientations(t *testing.T) {
	s := NewScheduledAccount(newMockAccount())
	_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
	require.NoError(t, err)

	_, err = s.Tick(RateUpdate{eurusd: 1.1, eurusd.Inverse(): 0.5})
	assert.True(t, errors.Is(err, ErrInconsistentRate), "got %v", err)
	assert.Equal(t, 1, s.PendingCount())
	assert.Equal(t, int64(0), s.Clock())
}

func TestConsistentBothOrientationsPrefersDirectQuote(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)
	_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
	require.NoError(t, err)

	_, err = s.Tick(RateUpdate{eurusd: 0.8, eurusd.Inverse(): 1.25})
	require.NoError(t, err)
	require.Len(t, acct.trades, 1)
	assert.Equal(t, 0.8, acct.trades[0].rate)
}

func TestUnknownPairsIgnored(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)
	_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
	require.NoError(t, err)

	_, err = s.Tick(RateUpdate{NewPair("GBP", "JPY"): 150})
	require.NoError(t, err)
	assert.Empty(t, acct.trades)
	assert.Equal(t, 1, s.PendingCount())
}

func TestInvertedQuoteAfterOppositeBucketEmptied(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)
	usdeur := eurusd.Inverse()

	_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
	require.NoError(t, err)
	_, err = s.Tick(rates(0.95))
	require.NoError(t, err)
	require.Len(t, acct.trades, 1)
	require.Equal(t, 0, s.PendingCount(eurusd))

	conf, err := s.StopLoss(1.00, 10, 0.90, usdeur, 10, nil)
	require.NoError(t, err)
	require.Equal(t, Pending, conf)

	_, err = s.Tick(RateUpdate{eurusd: 1.25})
	require.NoError(t, err)
	require.Len(t, acct.trades, 2)
	assert.Equal(t, usdeur, acct.trades[1].pair)
	assert.InDelta(t, 0.8, acct.trades[1].rate, 1e-12)
	assert.Equal(t, 0, s.PendingCount())
}

func TestOneQuoteFeedsBothOrientations(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)
	usdeur := eurusd.Inverse()

	_, err := s.StopLoss(1.10, 10, 1.00, eurusd, 10, nil)
	require.NoError(t, err)
	_, err = s.StopLoss(1.00, 10, 0.90, usdeur, 10, nil)
	require.NoError(t, err)

	_, err = s.Tick(RateUpdate{eurusd: 1.25})
	require.NoError(t, err)
	require.Len(t, acct.trades, 1)
	assert.Equal(t, usdeur, acct.trades[0].pair)
	assert.InDelta(t, 0.8, acct.trades[0].rate, 1e-12)
	assert.Equal(t, 1, s.PendingCount(eurusd))
	assert.Equal(t, 0, s.PendingCount(usdeur))
}

func TestHeapDropsEmptiedBucket(t *testing.T) {
	h := NewOrderHeap()
	rec := &OrderRecord{Kind: KindStopLoss, Pair: eurusd, Volume: 1, TriggerPrice: 1}
	dup := rec.Clone()
	h.Push(rec)
	h.Push(&dup)
	assert.True(t, h.Has(eurusd))

	assert.Equal(t, 2, h.RemoveMatching(rec))
	assert.False(t, h.Has(eurusd))
	assert.Empty(t, h.Pairs())
	assert.Equal(t, 0, h.Len())
}

// each kind fires on its own side of the trigger, boundary included
func TestTriggerBoundaries(t *testing.T) {
	const trigger = 1.0
	kinds := []struct {
		kind  OrderKind
		buy   bool
		fires map[string]bool
	}{
		{KindStopLoss, false, map[string]bool{"below": true, "equal": true, "above": false}},
		{KindTrailingStopLoss, false, map[string]bool{"below": true, "equal": true, "above": false}},
		{KindStartBuy, true, map[string]bool{"below": false, "equal": true, "above": true}},
		{KindBuyLimit, true, map[string]bool{"below": true, "equal": true, "above": false}},
		{KindSellLimit, false, map[string]bool{"below": false, "equal": true, "above": true}},
	}
	levels := []struct {
		name string
		rate float64
	}{
		{"below", 0.9},
		{"equal", trigger},
		{"above", 1.1},
	}

	for _, k := range kinds {
		for _, lvl := range levels {
			name := NewRegistry().Name(k.kind) + "/" + lvl.name
			fires := k.fires[lvl.name]

			t.Run(name+"/placed", func(t *testing.T) {
				acct := newMockAccount()
				s := NewScheduledAccount(acct)

				conf, err := s.Place(k.kind, lvl.rate, Params{Pair: eurusd, Volume: 2, TriggerPrice: trigger, Lifetime: 10})
				require.NoError(t, err)
				if !fires {
					assert.Equal(t, Pending, conf)
					assert.Empty(t, acct.trades)
					assert.Equal(t, 1, s.PendingCount())
					return
				}
				assert.Equal(t, Filled, conf)
				require.Len(t, acct.trades, 1)
				assert.Equal(t, k.buy, acct.trades[0].buy)
				assert.Equal(t, lvl.rate, acct.trades[0].rate)
				assert.Equal(t, 0, s.PendingCount())
			})

			t.Run(name+"/replayed", func(t *testing.T) {
				acct := newMockAccount()
				s := NewScheduledAccount(acct)

				// open on the side that never fires for this kind
				open := 1.05
				if k.fires["above"] {
					open = 0.95
				}
				conf, err := s.Place(k.kind, open, Params{Pair: eurusd, Volume: 2, TriggerPrice: trigger, Lifetime: 10})
				require.NoError(t, err)
				require.Equal(t, Pending, conf)

				_, err = s.Tick(rates(lvl.rate))
				require.NoError(t, err)
				if !fires {
					assert.Empty(t, acct.trades)
					assert.Equal(t, 1, s.PendingCount())
					return
				}
				require.Len(t, acct.trades, 1)
				assert.Equal(t, k.buy, acct.trades[0].buy)
				assert.Equal(t, lvl.rate, acct.trades[0].rate)
				assert.Equal(t, 0, s.PendingCount())
			})
		}
	}
}

func TestCustomOrderKind(t *testing.T) {
	acct := newMockAccount()
	s := NewScheduledAccount(acct)

	// sells once the bid lands inside a band around the trigger
	band := func(s *ScheduledAccount, c *Call, bid float64) (Confirmation, error) {
		expired, err := s.Setup(c)
		if err != nil {
			return Rejected, err
		}
		conf := Pending
		rec := c.Record()
		width, _ := optionFloat(rec.Options, "width")
		if !expired && bid >= rec.TriggerPrice-width && bid <= rec.TriggerPrice+width {
			if conf, err = s.execSell(rec, bid); err != nil {
				return Rejected, err
			}
		}
		return s.Teardown(c, conf)
	}

	kind, err := s.RegisterOrderKind("band_sell", band, "width")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(kind), int(firstCustomKind))
	assert.Contains(t, s.Registry().Names(), "band_sell")

	_, err = s.RegisterOrderKind("band_sell", band)
	assert.True(t, errors.Is(err, ErrDuplicateOrderKind))

	_, err = s.Place(kind, 1.0, Params{Pair: eurusd, Volume: 2, TriggerPrice: 1.5, Lifetime: 5})
	assert.True(t, errors.Is(err, ErrMissingArgument), "width is required")

	conf, err := s.Place(kind, 1.0, Params{Pair: eurusd, Volume: 2, TriggerPrice: 1.5, Lifetime: 5, Options: Options{"width": 0.1}})
	require.NoError(t, err)
	assert.Equal(t, Pending, conf)

	_, err = s.Tick(rates(1.45))
	require.NoError(t, err)
	require.Len(t, acct.trades, 1)
	assert.Equal(t, 0, s.PendingCount())

	// kinds are per account
	other := NewScheduledAccount(newMockAccount())
	_, ok := other.Registry().KindByName("band_sell")
	assert.False(t, ok)
}

func TestLifecycleViolations(t *testing.T) {
	tests := []struct {
		name string
		fn   OrderFunc
	}{
		{
			name: "no teardown",
			fn: func(s *ScheduledAccount, c *Call, rate float64) (Confirmation, error) {
				if _, err := s.Setup(c); err != nil {
					return Rejected, err
				}
				return Pending, nil
			},
		},
		{
			name: "no setup",
			fn: func(s *ScheduledAccount, c *Call, rate float64) (Confirmation, error) {
				return s.Teardown(c, Pending)
			},
		},
		{
			name: "setup twice",
			fn: func(s *ScheduledAccount, c *Call, rate float64) (Confirmation, error) {
				if _, err := s.Setup(c); err != nil {
					return Rejected, err
				}
				if _, err := s.Setup(c); err != nil {
					return Rejected, err
				}
				return s.Teardown(c, Pending)
			},
		},
		{
			name: "neither",
			fn: func(s *ScheduledAccount, c *Call, rate float64) (Confirmation, error) {
				return Pending, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduledAccount(newMockAccount())
			kind, err := s.RegisterOrderKind("broken", tt.fn)
			require.NoError(t, err)

			_, err = s.Place(kind, 1.0, Params{Pair: eurusd, Volume: 1, TriggerPrice: 1, Lifetime: 1})
			assert.True(t, errors.Is(err, ErrLifecycleViolation), "got %v", err)
			assert.Equal(t, 0, s.PendingCount())
		})
	}
}

func TestRegisterRejectsEmpty(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("", stopLoss)
	assert.True(t, errors.Is(err, ErrMissingArgument))
	_, err = r.Register("x", nil)
	assert.True(t, errors.Is(err, ErrMissingArgument))
	_, err = r.Register("stop_loss", stopLoss)
	assert.True(t, errors.Is(err, ErrDuplicateOrderKind))
	assert.Equal(t, "kind(42)", r.Name(42))
}
