package engine

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Option keys understood by the built-in order kinds
const (
	// OptionPercent selects percent (true, default) or absolute trailing distance
	OptionPercent = "percent"
	// OptionPrevRate is the rate the trailing trigger was last moved from
	OptionPrevRate = "prev_rate"
)

// stopLoss sells when the bid falls to or below the trigger
func stopLoss(s *ScheduledAccount, c *Call, bid float64) (Confirmation, error) {
	expired, err := s.Setup(c)
	if err != nil {
		return Rejected, err
	}
	conf := Pending
	if expired {
		conf = Rejected
	} else if rec := c.Record(); bid <= rec.TriggerPrice {
		if conf, err = s.execSell(rec, bid); err != nil {
			return Rejected, err
		}
	}
	return s.Teardown(c, conf)
}

// trailingStopLoss is a stop loss whose trigger follows rising bids.
// The trigger never moves down.
func trailingStopLoss(s *ScheduledAccount, c *Call, bid float64) (Confirmation, error) {
	expired, err := s.Setup(c)
	if err != nil {
		return Rejected, err
	}
	conf := Pending
	if expired {
		conf = Rejected
	} else {
		rec := c.Record()
		if c.Origin() == DirectCall {
			rec.Options[OptionPrevRate] = bid
		} else {
			ratchetTrailingStop(rec, bid)
		}
		if bid <= rec.TriggerPrice {
			if conf, err = s.execSell(rec, bid); err != nil {
				return Rejected, err
			}
		}
	}
	return s.Teardown(c, conf)
}

// startBuy buys once the ask climbs to or above the trigger
func startBuy(s *ScheduledAccount, c *Call, ask float64) (Confirmation, error) {
	expired, err := s.Setup(c)
	if err != nil {
		return Rejected, err
	}
	conf := Pending
	if expired {
		conf = Rejected
	} else if rec := c.Record(); ask >= rec.TriggerPrice {
		if conf, err = s.execBuy(rec, ask); err != nil {
			return Rejected, err
		}
	}
	return s.Teardown(c, conf)
}

// buyLimit buys at the trigger or better
func buyLimit(s *ScheduledAccount, c *Call, ask float64) (Confirmation, error) {
	expired, err := s.Setup(c)
	if err != nil {
		return Rejected, err
	}
	conf := Pending
	if expired {
		conf = Rejected
	} else if rec := c.Record(); ask <= rec.TriggerPrice {
		if conf, err = s.execBuy(rec, ask); err != nil {
			return Rejected, err
		}
	}
	return s.Teardown(c, conf)
}

// sellLimit sells at the trigger or better
func sellLimit(s *ScheduledAccount, c *Call, bid float64) (Confirmation, error) {
	expired, err := s.Setup(c)
	if err != nil {
		return Rejected, err
	}
	conf := Pending
	if expired {
		conf = Rejected
	} else if rec := c.Record(); bid >= rec.TriggerPrice {
		if conf, err = s.execSell(rec, bid); err != nil {
			return Rejected, err
		}
	}
	return s.Teardown(c, conf)
}

// ratchetTrailingStop moves the trigger up by the gain since the previous rate.
// The distance is recomputed from the previous stored rate, not the opening rate.
func ratchetTrailingStop(rec *OrderRecord, rate float64) {
	if rec.Options == nil {
		rec.Options = make(Options)
	}
	prev, ok := optionFloat(rec.Options, OptionPrevRate)
	if !ok || prev <= 0 {
		rec.Options[OptionPrevRate] = rate
		return
	}

	current := decimal.NewFromFloat(rate)
	previous := decimal.NewFromFloat(prev)
	ratio := current.Div(previous)
	if !ratio.GreaterThan(decimal.NewFromInt(1)) {
		return
	}

	trigger := decimal.NewFromFloat(rec.TriggerPrice)
	if optionBool(rec.Options, OptionPercent, true) {
		trigger = trigger.Mul(ratio)
	} else {
		trigger = trigger.Add(current.Sub(previous))
	}
	rec.TriggerPrice = trigger.InexactFloat64()
	rec.Options[OptionPrevRate] = rate
}

func (s *ScheduledAccount) execBuy(rec *OrderRecord, rate float64) (Confirmation, error) {
	conf, err := s.Account.Buy(rec.Volume, rate, rec.Pair, rec.Extra)
	if err != nil {
		return Rejected, errors.Wrapf(ErrOrderExecution, "buy %v %s at %v: %v", rec.Volume, rec.Pair, rate, err)
	}
	return conf, nil
}

func (s *ScheduledAccount) execSell(rec *OrderRecord, rate float64) (Confirmation, error) {
	conf, err := s.Account.Sell(rec.Volume, rate, rec.Pair, rec.Extra)
	if err != nil {
		return Rejected, errors.Wrapf(ErrOrderExecution, "sell %v %s at %v: %v", rec.Volume, rec.Pair, rate, err)
	}
	return conf, nil
}

func optionFloat(opts Options, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func optionBool(opts Options, key string, def bool) bool {
	switch v := opts[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return def
	}
}
