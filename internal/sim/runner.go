package sim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"order-scheduler/internal/engine"
	"order-scheduler/internal/feed"
	"order-scheduler/internal/ledger"
	"order-scheduler/pkg/utils"
)

// EventRecord is the serialisable form of an engine event
type EventRecord struct {
	Type    string      `json:"type"`
	Clock   int64       `json:"clock"`
	Origin  string      `json:"origin"`
	OrderID string      `json:"order_id"`
	Kind    string      `json:"kind"`
	Pair    engine.Pair `json:"pair"`
	Trigger float64     `json:"trigger"`
	Volume  float64     `json:"volume"`
}

// Result summarises one scenario run
type Result struct {
	RunID      string               `json:"run_id"`
	Scenario   string               `json:"scenario"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Clock      int64                `json:"clock"`
	Ticks      int                  `json:"ticks"`
	Placed     int                  `json:"placed"`
	Filled     int                  `json:"filled"`
	Expired    int                  `json:"expired"`
	Events     []EventRecord        `json:"events"`
	Warnings   []engine.Warning     `json:"warnings,omitempty"`
	Balances   map[string]float64   `json:"balances"`
	Pending    []engine.OrderRecord `json:"pending"`
	Error      string               `json:"error,omitempty"`
}

// Runner executes scenarios, each on its own ledger and scheduled account
type Runner struct {
	tolerance float64
}

func NewRunner(tolerance float64) *Runner {
	if tolerance <= 0 {
		tolerance = engine.DefaultRateTolerance
	}
	return &Runner{tolerance: tolerance}
}

// Run executes every scenario in its own goroutine and returns the results in input order
// once all have finished. Cancelling ctx stops each run before its next tick.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, len(scenarios))

	var wg sync.WaitGroup
	for i := range scenarios {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.RunOne(ctx, scenarios[i])
		}(i)
	}
	wg.Wait()
	return results
}

// RunOne executes a single scenario synchronously
func (r *Runner) RunOne(ctx context.Context, sc Scenario) Result {
	res := Result{
		RunID:     uuid.NewString(),
		Scenario:  sc.Name,
		StartedAt: time.Now().UTC(),
	}
	log := utils.Logger.WithFields(logrus.Fields{"scenario": sc.Name, "run": res.RunID})

	acct := ledger.New(sc.Reference)
	var s *engine.ScheduledAccount
	s = engine.NewScheduledAccount(acct,
		engine.WithRateTolerance(r.tolerance),
		engine.WithLogger(log),
		engine.WithWarningHandler(func(w engine.Warning) {
			utils.LogWarning(w.Clock, w.Message)
			res.Warnings = append(res.Warnings, w)
		}),
		engine.WithEventHandler(func(ev engine.Event) {
			rec := EventRecord{
				Type:    ev.Type.String(),
				Clock:   ev.Clock,
				Origin:  ev.Origin.String(),
				OrderID: ev.Record.ID,
				Kind:    s.Registry().Name(ev.Record.Kind),
				Pair:    ev.Record.Pair,
				Trigger: ev.Record.TriggerPrice,
				Volume:  ev.Record.Volume,
			}
			switch ev.Type {
			case engine.EventFilled:
				res.Filled++
			case engine.EventExpired:
				res.Expired++
			}
			res.Events = append(res.Events, rec)
		}),
	)

	err := r.drive(ctx, sc, acct, s, &res)
	if err != nil {
		res.Error = err.Error()
		log.WithError(err).Error("scenario failed")
	}

	res.Clock = acct.Clock()
	res.Balances = acct.Balances()
	res.Pending = s.Orders()
	res.FinishedAt = time.Now().UTC()

	utils.LogOrderEvent("run finished", logrus.Fields{
		"scenario": sc.Name,
		"run":      res.RunID,
		"filled":   res.Filled,
		"expired":  res.Expired,
		"pending":  len(res.Pending),
	})
	return res
}

func (r *Runner) drive(ctx context.Context, sc Scenario, acct *ledger.Ledger, s *engine.ScheduledAccount, res *Result) error {
	for cur, amount := range sc.Balances {
		if amount == 0 {
			continue
		}
		if err := acct.Deposit(cur, amount); err != nil {
			return errors.Wrapf(err, "seed balance %s", cur)
		}
	}

	next := 0
	place := func() error {
		for next < len(sc.Orders) && sc.Orders[next].Tick <= acct.Clock() {
			o := sc.Orders[next]
			next++
			if _, err := s.PlaceByName(o.Kind, o.Rate, o.params()); err != nil {
				return errors.Wrapf(err, "place order %d (%s)", next-1, o.Kind)
			}
			res.Placed++
		}
		return nil
	}

	if err := place(); err != nil {
		return err
	}
	rates := make([]engine.RateUpdate, len(sc.Ticks))
	for i, step := range sc.Ticks {
		if step != nil {
			rates[i] = step.Rates
		}
	}
	src := feed.NewSeries(rates...)
	log := utils.Logger.WithField("scenario", sc.Name)
	log.WithField("ticks", src.Remaining()).Debug("scenario started")

	for {
		update, err := src.Next(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "stopped before tick %d", res.Ticks+1)
		}

		var args []interface{}
		if step := sc.Ticks[res.Ticks]; step != nil && step.Clock != nil {
			args = append(args, ledger.SetClock(*step.Clock))
		}
		if _, err := s.Tick(update, args...); err != nil {
			return errors.Wrapf(err, "tick %d", res.Ticks+1)
		}
		res.Ticks++
		log.WithFields(logrus.Fields{"clock": acct.Clock(), "left": src.Remaining()}).Debug("tick done")

		if err := place(); err != nil {
			return err
		}
	}
	return nil
}
