package ledger

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"order-scheduler/internal/engine"
	"order-scheduler/pkg/utils"
)

// Transaction extras understood by Buy and Sell
const (
	ExtraFee                = "fee"
	ExtraFeeCurrency        = "fee_currency"
	ExtraProcessingDuration = "processing_duration"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidExtra   = errors.New("invalid transaction extra")
	ErrClockBackwards = errors.New("clock cannot move backwards")
	ErrUnknownTickArg = errors.New("unknown tick argument")
)

var _ engine.Account = (*Ledger)(nil)

// SetClock is the AdvanceTick argument that jumps the clock to an absolute tick
type SetClock int64

// Ledger is a multi-currency depot with a discrete clock.
// It implements engine.Account and is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	reference string
	clock     int64
	depot     map[string]decimal.Decimal
	pending   []settlement
	log       *logrus.Entry
}

// settlement is a credit that lands once the clock reaches due
type settlement struct {
	id       string
	due      int64
	currency string
	amount   decimal.Decimal
}

// New creates an empty ledger. Fees without an explicit currency are charged in reference.
func New(reference string) *Ledger {
	return &Ledger{
		reference: reference,
		depot:     make(map[string]decimal.Decimal),
		log:       utils.Logger.WithField("component", "ledger"),
	}
}

func (l *Ledger) Reference() string {
	return l.reference
}

// Deposit credits amount to currency
func (l *Ledger) Deposit(currency string, amount float64) error {
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "deposit %v %s", amount, currency)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.depot[currency] = l.depot[currency].Add(decimal.NewFromFloat(amount))
	return nil
}

// Withdraw debits amount from currency, failing on insufficient balance
func (l *Ledger) Withdraw(currency string, amount float64) error {
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "withdraw %v %s", amount, currency)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d := decimal.NewFromFloat(amount)
	if l.depot[currency].LessThan(d) {
		return errors.Errorf("insufficient balance: have %s %s, need %s", l.depot[currency], currency, d)
	}
	l.depot[currency] = l.depot[currency].Sub(d)
	return nil
}

func (l *Ledger) Balance(currency string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.depot[currency].InexactFloat64()
}

// Balances returns a copy of every non-zero position
func (l *Ledger) Balances() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]float64, len(l.depot))
	for cur, amount := range l.depot {
		if amount.IsZero() {
			continue
		}
		out[cur] = amount.InexactFloat64()
	}
	return out
}

// Currencies lists the currencies with a non-zero position in sorted order
func (l *Ledger) Currencies() []string {
	balances := l.Balances()
	out := make([]string, 0, len(balances))
	for cur := range balances {
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

// PendingSettlements returns how many credits are still waiting for their tick
func (l *Ledger) PendingSettlements() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

func (l *Ledger) Clock() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clock
}

// Buy acquires volume of pair.Base paying volume*rate of pair.Quote
func (l *Ledger) Buy(volume, rate float64, pair engine.Pair, extra engine.Extra) (engine.Confirmation, error) {
	return l.transact(true, volume, rate, pair, extra)
}

// Sell disposes volume of pair.Base receiving volume*rate of pair.Quote
func (l *Ledger) Sell(volume, rate float64, pair engine.Pair, extra engine.Extra) (engine.Confirmation, error) {
	return l.transact(false, volume, rate, pair, extra)
}

// transact debits immediately and credits either now or after the processing duration.
// An accepted transaction is Filled even when its credit settles later.
// An uncovered debit leaves the depot untouched and yields Rejected.
func (l *Ledger) transact(buy bool, volume, rate float64, pair engine.Pair, extra engine.Extra) (engine.Confirmation, error) {
	if volume <= 0 || rate <= 0 {
		return engine.Rejected, errors.Wrapf(ErrInvalidAmount, "volume %v at rate %v", volume, rate)
	}
	if pair.IsZero() {
		return engine.Rejected, errors.Wrap(ErrInvalidAmount, "empty pair")
	}
	tx, err := parseExtra(extra, l.reference)
	if err != nil {
		return engine.Rejected, err
	}

	vol := decimal.NewFromFloat(volume)
	notional := vol.Mul(decimal.NewFromFloat(rate))

	debitCur, debit := pair.Base, vol
	creditCur, credit := pair.Quote, notional
	if buy {
		debitCur, debit = pair.Quote, notional
		creditCur, credit = pair.Base, vol
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	need := map[string]decimal.Decimal{debitCur: debit}
	if tx.fee.IsPositive() {
		need[tx.feeCurrency] = need[tx.feeCurrency].Add(tx.fee)
	}
	for cur, amount := range need {
		if l.depot[cur].LessThan(amount) {
			l.log.WithFields(logrus.Fields{
				"pair":     pair.String(),
				"buy":      buy,
				"currency": cur,
				"need":     amount.String(),
				"have":     l.depot[cur].String(),
			}).Info("transaction not covered")
			return engine.Rejected, nil
		}
	}
	for cur, amount := range need {
		l.depot[cur] = l.depot[cur].Sub(amount)
	}

	if tx.processing > 0 {
		l.pending = append(l.pending, settlement{
			id:       uuid.NewString(),
			due:      l.clock + tx.processing,
			currency: creditCur,
			amount:   credit,
		})
		return engine.Filled, nil
	}
	l.depot[creditCur] = l.depot[creditCur].Add(credit)
	return engine.Filled, nil
}

// AdvanceTick moves the clock one tick, or to the tick given by a SetClock argument,
// and settles every credit that has come due.
func (l *Ledger) AdvanceTick(args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.clock + 1
	for _, arg := range args {
		switch v := arg.(type) {
		case SetClock:
			next = int64(v)
		default:
			return errors.Wrapf(ErrUnknownTickArg, "%T", arg)
		}
	}
	if next < l.clock {
		return errors.Wrapf(ErrClockBackwards, "from %d to %d", l.clock, next)
	}
	l.clock = next

	kept := l.pending[:0]
	for _, s := range l.pending {
		if s.due > l.clock {
			kept = append(kept, s)
			continue
		}
		l.depot[s.currency] = l.depot[s.currency].Add(s.amount)
		l.log.WithFields(logrus.Fields{
			"settlement": s.id,
			"currency":   s.currency,
			"amount":     s.amount.String(),
			"clock":      l.clock,
		}).Debug("settled")
	}
	l.pending = kept
	return nil
}

type txExtra struct {
	fee         decimal.Decimal
	feeCurrency string
	processing  int64
}

func parseExtra(extra engine.Extra, reference string) (txExtra, error) {
	tx := txExtra{feeCurrency: reference}
	if v, ok := extra[ExtraFee]; ok {
		f, ok := toFloat(v)
		if !ok || f < 0 {
			return tx, errors.Wrapf(ErrInvalidExtra, "%s=%v", ExtraFee, v)
		}
		tx.fee = decimal.NewFromFloat(f)
	}
	if v, ok := extra[ExtraFeeCurrency]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return tx, errors.Wrapf(ErrInvalidExtra, "%s=%v", ExtraFeeCurrency, v)
		}
		tx.feeCurrency = s
	}
	if v, ok := extra[ExtraProcessingDuration]; ok {
		f, ok := toFloat(v)
		if !ok || f < 0 || f != float64(int64(f)) {
			return tx, errors.Wrapf(ErrInvalidExtra, "%s=%v", ExtraProcessingDuration, v)
		}
		tx.processing = int64(f)
	}
	return tx, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
