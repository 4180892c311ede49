package ledger

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-scheduler/internal/engine"
)

var btceur = engine.NewPair("BTC", "EUR")

func funded(t *testing.T, balances map[string]float64) *Ledger {
	t.Helper()
	l := New("EUR")
	for cur, amount := range balances {
		require.NoError(t, l.Deposit(cur, amount))
	}
	return l
}

func TestBuyAndSellMoveBothLegs(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 1000})

	conf, err := l.Buy(2, 100, btceur, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Filled, conf)
	assert.Equal(t, 800.0, l.Balance("EUR"))
	assert.Equal(t, 2.0, l.Balance("BTC"))

	conf, err = l.Sell(0.5, 120, btceur, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Filled, conf)
	assert.Equal(t, 860.0, l.Balance("EUR"))
	assert.Equal(t, 1.5, l.Balance("BTC"))
	assert.Equal(t, []string{"BTC", "EUR"}, l.Currencies())
}

func TestUncoveredTransactionRejected(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 50})

	conf, err := l.Buy(1, 100, btceur, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Rejected, conf)
	assert.Equal(t, map[string]float64{"EUR": 50}, l.Balances())

	conf, err = l.Sell(1, 100, btceur, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Rejected, conf)
}

func TestFeeChargedImmediately(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 100, "USD": 10})

	conf, err := l.Buy(0.5, 100, btceur, engine.Extra{ExtraFee: 1.5})
	require.NoError(t, err)
	assert.Equal(t, engine.Filled, conf)
	assert.Equal(t, 48.5, l.Balance("EUR"))

	conf, err = l.Sell(0.5, 100, btceur, engine.Extra{ExtraFee: 2, ExtraFeeCurrency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, engine.Filled, conf)
	assert.Equal(t, 98.5, l.Balance("EUR"))
	assert.Equal(t, 8.0, l.Balance("USD"))

	// the fee alone is not covered
	require.NoError(t, l.Deposit("BTC", 1))
	conf, err = l.Sell(1, 100, btceur, engine.Extra{ExtraFee: 20, ExtraFeeCurrency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, engine.Rejected, conf)
	assert.Equal(t, 1.0, l.Balance("BTC"))
}

func TestDelayedSettlement(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 300})

	conf, err := l.Buy(1, 100, btceur, engine.Extra{ExtraProcessingDuration: 2})
	require.NoError(t, err)
	assert.Equal(t, engine.Filled, conf)
	assert.Equal(t, 200.0, l.Balance("EUR"))
	assert.Equal(t, 0.0, l.Balance("BTC"))
	assert.Equal(t, 1, l.PendingSettlements())

	require.NoError(t, l.AdvanceTick())
	assert.Equal(t, 0.0, l.Balance("BTC"))

	require.NoError(t, l.AdvanceTick())
	assert.Equal(t, 1.0, l.Balance("BTC"))
	assert.Equal(t, 0, l.PendingSettlements())
}

func TestAdvanceTickArguments(t *testing.T) {
	l := New("EUR")

	require.NoError(t, l.AdvanceTick())
	assert.Equal(t, int64(1), l.Clock())

	require.NoError(t, l.AdvanceTick(SetClock(100)))
	assert.Equal(t, int64(100), l.Clock())

	err := l.AdvanceTick(SetClock(10))
	assert.True(t, errors.Is(err, ErrClockBackwards))
	assert.Equal(t, int64(100), l.Clock())

	err = l.AdvanceTick("later")
	assert.True(t, errors.Is(err, ErrUnknownTickArg))
}

func TestInvalidTransactions(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
		rate   float64
		pair   engine.Pair
		extra  engine.Extra
		want   error
	}{
		{"zero volume", 0, 1, btceur, nil, ErrInvalidAmount},
		{"negative rate", 1, -1, btceur, nil, ErrInvalidAmount},
		{"empty pair", 1, 1, engine.Pair{}, nil, ErrInvalidAmount},
		{"negative fee", 1, 1, btceur, engine.Extra{ExtraFee: -1.0}, ErrInvalidExtra},
		{"fee currency type", 1, 1, btceur, engine.Extra{ExtraFeeCurrency: 3}, ErrInvalidExtra},
		{"fractional duration", 1, 1, btceur, engine.Extra{ExtraProcessingDuration: 1.5}, ErrInvalidExtra},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := funded(t, map[string]float64{"EUR": 100, "BTC": 100})
			conf, err := l.Buy(tt.volume, tt.rate, tt.pair, tt.extra)
			assert.Equal(t, engine.Rejected, conf)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestWithdraw(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 10})
	require.NoError(t, l.Withdraw("EUR", 4))
	assert.Equal(t, 6.0, l.Balance("EUR"))
	assert.Error(t, l.Withdraw("EUR", 7))
	assert.True(t, errors.Is(l.Deposit("EUR", 0), ErrInvalidAmount))
}

// TestScheduledLedger drives the ledger through the order scheduler end to end
func TestScheduledLedger(t *testing.T) {
	l := funded(t, map[string]float64{"BTC": 2})
	s := engine.NewScheduledAccount(l)

	conf, err := s.StopLoss(110, 1, 100, btceur, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Pending, conf)

	_, err = s.Tick(engine.RateUpdate{btceur: 105}, SetClock(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.Clock())
	assert.Equal(t, 2.0, l.Balance("BTC"))

	// quoted the other way round
	_, err = s.Tick(engine.RateUpdate{btceur.Inverse(): 0.0125})
	require.NoError(t, err)
	assert.Equal(t, 1.0, l.Balance("BTC"))
	assert.Equal(t, 80.0, l.Balance("EUR"))
	assert.Equal(t, 0, s.PendingCount())
}

func TestScheduledDelayedSettlementFiresOnce(t *testing.T) {
	l := funded(t, map[string]float64{"EUR": 300})
	s := engine.NewScheduledAccount(l)

	conf, err := s.BuyLimit(100, 1, 95, btceur, 10, engine.Extra{ExtraProcessingDuration: 2})
	require.NoError(t, err)
	assert.Equal(t, engine.Pending, conf)

	_, err = s.Tick(engine.RateUpdate{btceur: 90})
	require.NoError(t, err)
	assert.Equal(t, 210.0, l.Balance("EUR"))
	assert.Equal(t, 0.0, l.Balance("BTC"))
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, 1, l.PendingSettlements())

	for i := 0; i < 2; i++ {
		_, err = s.Tick(engine.RateUpdate{btceur: 90})
		require.NoError(t, err)
	}
	assert.Equal(t, 210.0, l.Balance("EUR"))
	assert.Equal(t, 1.0, l.Balance("BTC"))
	assert.Equal(t, 0, l.PendingSettlements())
}
