package engine

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// OrderFunc evaluates a pending order against the rate of the current tick.
// Implementations must call s.Setup(c) first and return s.Teardown(c, conf).
type OrderFunc func(s *ScheduledAccount, c *Call, rate float64) (Confirmation, error)

// KindSpec describes a registered order kind
type KindSpec struct {
	Kind OrderKind
	Name string
	Func OrderFunc
	// Options lists the option keys a placement must supply
	Options []string
}

// Registry maps typed order kinds to their order functions.
// Each scheduled account owns its own registry.
type Registry struct {
	specs map[OrderKind]KindSpec
	names map[string]OrderKind
	next  OrderKind
}

func NewRegistry() *Registry {
	r := &Registry{
		specs: make(map[OrderKind]KindSpec),
		names: make(map[string]OrderKind),
		next:  firstCustomKind,
	}
	r.add(KindSpec{Kind: KindStopLoss, Name: "stop_loss", Func: stopLoss})
	r.add(KindSpec{Kind: KindTrailingStopLoss, Name: "trailing_stop_loss", Func: trailingStopLoss})
	r.add(KindSpec{Kind: KindStartBuy, Name: "start_buy", Func: startBuy})
	r.add(KindSpec{Kind: KindBuyLimit, Name: "buy_limit", Func: buyLimit})
	r.add(KindSpec{Kind: KindSellLimit, Name: "sell_limit", Func: sellLimit})
	return r
}

func (r *Registry) add(spec KindSpec) {
	r.specs[spec.Kind] = spec
	r.names[spec.Name] = spec.Kind
}

// Register adds a new order kind and returns the kind allocated for it
func (r *Registry) Register(name string, fn OrderFunc, options ...string) (OrderKind, error) {
	if name == "" {
		return 0, errors.Wrap(ErrMissingArgument, "order kind name is empty")
	}
	if fn == nil {
		return 0, errors.Wrapf(ErrMissingArgument, "order kind %s has no function", name)
	}
	if _, exists := r.names[name]; exists {
		return 0, errors.Wrapf(ErrDuplicateOrderKind, "order kind %s", name)
	}
	kind := r.next
	r.next++
	r.add(KindSpec{Kind: kind, Name: name, Func: fn, Options: options})
	return kind, nil
}

func (r *Registry) Lookup(kind OrderKind) (KindSpec, bool) {
	spec, ok := r.specs[kind]
	return spec, ok
}

func (r *Registry) KindByName(name string) (OrderKind, bool) {
	kind, ok := r.names[name]
	return kind, ok
}

// Name returns the registered name of kind, or a placeholder for unknown kinds
func (r *Registry) Name(kind OrderKind) string {
	if spec, ok := r.specs[kind]; ok {
		return spec.Name
	}
	return fmt.Sprintf("kind(%d)", int(kind))
}

// Names lists registered kind names in sorted order
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
