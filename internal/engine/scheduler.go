package engine

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"order-scheduler/pkg/utils"
)

const DefaultRateTolerance = 1e-9

// ScheduledAccount wraps an Account with an order heap and a tick driver.
// The wrapped account's Buy, Sell and Clock stay reachable through embedding.
// A ScheduledAccount is not safe for concurrent use.
type ScheduledAccount struct {
	Account

	heap      *OrderHeap
	registry  *Registry
	tolerance float64
	log       *logrus.Entry
	onWarning func(Warning)
	onEvent   func(Event)
}

type Option func(*ScheduledAccount)

// WithRateTolerance sets how far r(A/B)*r(B/A) may drift from 1
func WithRateTolerance(tol float64) Option {
	return func(s *ScheduledAccount) { s.tolerance = tol }
}

// WithWarningHandler receives degraded-tick warnings instead of the logger
func WithWarningHandler(fn func(Warning)) Option {
	return func(s *ScheduledAccount) { s.onWarning = fn }
}

// WithEventHandler observes orders being queued, filled and expired
func WithEventHandler(fn func(Event)) Option {
	return func(s *ScheduledAccount) { s.onEvent = fn }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *ScheduledAccount) { s.log = l }
}

func NewScheduledAccount(acct Account, opts ...Option) *ScheduledAccount {
	s := &ScheduledAccount{
		Account:   acct,
		heap:      NewOrderHeap(),
		registry:  NewRegistry(),
		tolerance: DefaultRateTolerance,
		log:       utils.Logger.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOrderKind adds a custom order kind to this account
func (s *ScheduledAccount) RegisterOrderKind(name string, fn OrderFunc, options ...string) (OrderKind, error) {
	return s.registry.Register(name, fn, options...)
}

func (s *ScheduledAccount) Registry() *Registry {
	return s.registry
}

// Place invokes the order function of kind directly with the current rate.
// Unfilled orders are queued on the heap.
func (s *ScheduledAccount) Place(kind OrderKind, rate float64, p Params) (Confirmation, error) {
	spec, ok := s.registry.Lookup(kind)
	if !ok {
		return Rejected, errors.Wrapf(ErrUnregisteredOrderKind, "kind %d", int(kind))
	}
	if err := validateRate(rate); err != nil {
		return Rejected, errors.Wrapf(err, "placing %s", spec.Name)
	}
	return s.invoke(spec, newDirectCall(kind, p), rate)
}

// PlaceByName is Place for callers that only know the registered name
func (s *ScheduledAccount) PlaceByName(name string, rate float64, p Params) (Confirmation, error) {
	kind, ok := s.registry.KindByName(name)
	if !ok {
		return Rejected, errors.Wrapf(ErrUnregisteredOrderKind, "%q", name)
	}
	return s.Place(kind, rate, p)
}

func (s *ScheduledAccount) StopLoss(bid, volume, stopPrice float64, pair Pair, lifetime int64, extra Extra) (Confirmation, error) {
	return s.Place(KindStopLoss, bid, Params{Pair: pair, Volume: volume, TriggerPrice: stopPrice, Lifetime: lifetime, Extra: extra})
}

func (s *ScheduledAccount) TrailingStopLoss(bid, volume, stopPrice float64, pair Pair, lifetime int64, percent bool, extra Extra) (Confirmation, error) {
	return s.Place(KindTrailingStopLoss, bid, Params{
		Pair:         pair,
		Volume:       volume,
		TriggerPrice: stopPrice,
		Lifetime:     lifetime,
		Options:      Options{OptionPercent: percent},
		Extra:        extra,
	})
}

func (s *ScheduledAccount) StartBuy(ask, volume, startPrice float64, pair Pair, lifetime int64, extra Extra) (Confirmation, error) {
	return s.Place(KindStartBuy, ask, Params{Pair: pair, Volume: volume, TriggerPrice: startPrice, Lifetime: lifetime, Extra: extra})
}

func (s *ScheduledAccount) BuyLimit(ask, volume, limitPrice float64, pair Pair, lifetime int64, extra Extra) (Confirmation, error) {
	return s.Place(KindBuyLimit, ask, Params{Pair: pair, Volume: volume, TriggerPrice: limitPrice, Lifetime: lifetime, Extra: extra})
}

func (s *ScheduledAccount) SellLimit(bid, volume, limitPrice float64, pair Pair, lifetime int64, extra Extra) (Confirmation, error) {
	return s.Place(KindSellLimit, bid, Params{Pair: pair, Volume: volume, TriggerPrice: limitPrice, Lifetime: lifetime, Extra: extra})
}

// Tick advances the wrapped account, then evaluates pending orders against update.
// The update is validated and normalized before the clock advances, so a rejected
// update returns an error with the clock where it was.
// A nil update only advances the clock and raises a warning.
// Passthrough arguments go to the account's AdvanceTick unchanged.
func (s *ScheduledAccount) Tick(update RateUpdate, passthrough ...interface{}) (int64, error) {
	var rates RateUpdate
	if update != nil {
		var err error
		if rates, err = s.normalizeRates(update); err != nil {
			return s.Clock(), err
		}
	}

	if err := s.Account.AdvanceTick(passthrough...); err != nil {
		return s.Clock(), errors.Wrap(err, "advance account clock")
	}
	now := s.Clock()

	if update == nil {
		s.warn(Warning{Clock: now, Message: "tick without rate update, pending orders were not evaluated"})
		return now, nil
	}
	if err := s.evaluateHeap(rates); err != nil {
		return s.Clock(), err
	}
	return s.Clock(), nil
}

// evaluateHeap replays every resident order whose pair is quoted this tick.
// Each pair is iterated over a snapshot so orders queued or removed
// during the pass are neither revisited nor skipped.
func (s *ScheduledAccount) evaluateHeap(rates RateUpdate) error {
	pairs := make([]Pair, 0, len(rates))
	for p := range rates {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)

	for _, pair := range pairs {
		rate := rates[pair]
		for _, rec := range s.heap.Snapshot(pair) {
			if rec.ExpiryTick < s.Clock() {
				if s.heap.RemoveMatching(rec) > 0 {
					s.emit(EventExpired, HeapReplay, rec)
				}
				continue
			}
			spec, ok := s.registry.Lookup(rec.Kind)
			if !ok {
				return errors.Wrapf(ErrUnregisteredOrderKind, "resident order %s on %s", rec.ID, pair)
			}
			if _, err := s.invoke(spec, newReplayCall(rec), rate); err != nil {
				return errors.Wrapf(err, "evaluate %s order %s on %s", spec.Name, rec.ID, pair)
			}
		}
	}
	return nil
}

func (s *ScheduledAccount) invoke(spec KindSpec, c *Call, rate float64) (Confirmation, error) {
	conf, err := spec.Func(s, c, rate)
	if err != nil {
		return conf, err
	}
	if !c.setupDone || !c.teardownDone {
		return conf, errors.Wrapf(ErrLifecycleViolation, "%s returned without setup and teardown", spec.Name)
	}
	return conf, nil
}

// Orders lists the pending orders in pair order
func (s *ScheduledAccount) Orders() []OrderRecord {
	return s.heap.Records()
}

// PendingCount returns the number of pending orders, optionally for one pair
func (s *ScheduledAccount) PendingCount(pairs ...Pair) int {
	if len(pairs) == 0 {
		return s.heap.Len()
	}
	n := 0
	for _, p := range pairs {
		n += s.heap.LenPair(p)
	}
	return n
}

// Reset drops every pending order
func (s *ScheduledAccount) Reset() {
	s.heap.Reset()
}

func (s *ScheduledAccount) warn(w Warning) {
	if s.onWarning != nil {
		s.onWarning(w)
		return
	}
	utils.LogWarning(w.Clock, w.Message)
}

func (s *ScheduledAccount) emit(t EventType, origin Origin, rec *OrderRecord) {
	ev := Event{Type: t, Clock: s.Clock(), Origin: origin, Record: rec.Clone()}
	s.log.WithFields(logrus.Fields{
		"event":   t.String(),
		"kind":    s.registry.Name(rec.Kind),
		"pair":    rec.Pair.String(),
		"trigger": rec.TriggerPrice,
		"volume":  rec.Volume,
		"expiry":  rec.ExpiryTick,
		"clock":   ev.Clock,
		"origin":  origin.String(),
	}).Debug("order event")
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func validateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return errors.Wrapf(ErrMalformedRateUpdate, "rate %v must be positive and finite", rate)
	}
	return nil
}
