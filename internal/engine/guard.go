package engine

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Call is the state of a single order function invocation.
type Call struct {
	kind   OrderKind
	origin Origin
	params Params
	record *OrderRecord

	setupDone    bool
	teardownDone bool
	expired      bool
}

func newDirectCall(kind OrderKind, p Params) *Call {
	return &Call{kind: kind, origin: DirectCall, params: p}
}

func newReplayCall(rec *OrderRecord) *Call {
	return &Call{kind: rec.Kind, origin: HeapReplay, record: rec}
}

func (c *Call) Origin() Origin { return c.origin }

// Record is the order being evaluated. It is nil until Setup succeeds on a direct call.
func (c *Call) Record() *OrderRecord { return c.record }

// Setup must open every order function. It validates the kind and arguments,
// pins the absolute expiry on direct calls and reports whether the order has expired.
func (s *ScheduledAccount) Setup(c *Call) (bool, error) {
	if c.setupDone {
		return false, errors.Wrapf(ErrLifecycleViolation, "setup ran twice for %s", s.registry.Name(c.kind))
	}
	spec, ok := s.registry.Lookup(c.kind)
	if !ok {
		return false, errors.Wrapf(ErrUnregisteredOrderKind, "kind %d", int(c.kind))
	}

	now := s.Clock()
	switch c.origin {
	case DirectCall:
		if missing := missingArguments(spec, c.params); len(missing) > 0 {
			return false, errors.Wrapf(ErrMissingArgument, "%s: %s", spec.Name, strings.Join(missing, ", "))
		}
		if c.params.Lifetime < 0 {
			return false, errors.Wrapf(ErrInvalidLifetime, "%s: lifetime %d", spec.Name, c.params.Lifetime)
		}
		c.record = &OrderRecord{
			ID:           uuid.NewString(),
			Kind:         c.kind,
			Pair:         c.params.Pair,
			TriggerPrice: c.params.TriggerPrice,
			Volume:       c.params.Volume,
			Lifetime:     c.params.Lifetime,
			CreatedTick:  now,
			ExpiryTick:   now + c.params.Lifetime,
			Options:      copyOptions(c.params.Options),
			Extra:        copyExtra(c.params.Extra),
		}
	case HeapReplay:
		if c.record == nil {
			return false, errors.Wrapf(ErrLifecycleViolation, "%s replayed without a record", spec.Name)
		}
		if missing := missingArguments(spec, paramsOf(c.record)); len(missing) > 0 {
			return false, errors.Wrapf(ErrMissingArgument, "%s: %s", spec.Name, strings.Join(missing, ", "))
		}
	}

	c.setupDone = true
	c.expired = c.record.ExpiryTick < now
	return c.expired, nil
}

// Teardown must close every order function. It places or removes the order
// depending on the confirmation and passes the confirmation through.
func (s *ScheduledAccount) Teardown(c *Call, conf Confirmation) (Confirmation, error) {
	if !c.setupDone {
		return conf, errors.Wrapf(ErrLifecycleViolation, "teardown without setup for %s", s.registry.Name(c.kind))
	}
	if c.teardownDone {
		return conf, errors.Wrapf(ErrLifecycleViolation, "teardown ran twice for %s", s.registry.Name(c.kind))
	}
	c.teardownDone = true
	rec := c.record

	if c.expired {
		if c.origin == HeapReplay && s.heap.RemoveMatching(rec) > 0 {
			s.emit(EventExpired, c.origin, rec)
		}
		return conf, nil
	}

	switch {
	case conf == Filled && c.origin == HeapReplay:
		s.heap.RemoveMatching(rec)
	case conf != Filled && c.origin == DirectCall:
		s.heap.Push(rec)
		s.emit(EventQueued, c.origin, rec)
	}
	if conf == Filled {
		s.emit(EventFilled, c.origin, rec)
	}
	return conf, nil
}

func missingArguments(spec KindSpec, p Params) []string {
	var missing []string
	if p.Pair.IsZero() {
		missing = append(missing, "pair")
	}
	if p.Volume <= 0 {
		missing = append(missing, "volume")
	}
	if p.TriggerPrice <= 0 {
		missing = append(missing, "trigger_price")
	}
	for _, key := range spec.Options {
		if _, ok := p.Options[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func paramsOf(rec *OrderRecord) Params {
	return Params{
		Pair:         rec.Pair,
		Volume:       rec.Volume,
		TriggerPrice: rec.TriggerPrice,
		Lifetime:     rec.Lifetime,
		Options:      rec.Options,
		Extra:        rec.Extra,
	}
}

func copyOptions(in Options) Options {
	out := make(Options, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyExtra(in Extra) Extra {
	if len(in) == 0 {
		return nil
	}
	out := make(Extra, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
