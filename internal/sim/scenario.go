package sim

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"order-scheduler/internal/engine"
)

// Scenario is a scripted run: starting balances, order placements and one
// rate update per tick.
//
//	name: stop-loss
//	reference: EUR
//	balances: {BTC: 1}
//	orders:
//	  - {tick: 0, kind: stop_loss, pair: BTC/EUR, rate: 110, volume: 1, trigger: 100, lifetime: 5}
//	ticks:
//	  - rates: {BTC/EUR: 105}
//	  - null              # degraded tick
//	  - rates: {EUR/BTC: 0.0125}
//	    clock: 10         # jump the clock
type Scenario struct {
	Name      string             `yaml:"name" json:"name"`
	Reference string             `yaml:"reference" json:"reference"`
	Balances  map[string]float64 `yaml:"balances" json:"balances"`
	Orders    []Placement        `yaml:"orders" json:"orders"`
	Ticks     []*Step            `yaml:"ticks" json:"ticks"`
}

// Placement places one order once the clock reaches Tick
type Placement struct {
	Tick     int64                  `yaml:"tick" json:"tick"`
	Kind     string                 `yaml:"kind" json:"kind"`
	Pair     engine.Pair            `yaml:"pair" json:"pair"`
	Rate     float64                `yaml:"rate" json:"rate"`
	Volume   float64                `yaml:"volume" json:"volume"`
	Trigger  float64                `yaml:"trigger" json:"trigger"`
	Lifetime int64                  `yaml:"lifetime" json:"lifetime"`
	Percent  *bool                  `yaml:"percent,omitempty" json:"percent,omitempty"`
	Options  map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
	Extra    map[string]interface{} `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Step is one tick of the rate series. A nil step or nil Rates is a degraded tick.
type Step struct {
	Rates engine.RateUpdate `yaml:"rates" json:"rates"`
	Clock *int64            `yaml:"clock,omitempty" json:"clock,omitempty"`
}

func (p Placement) params() engine.Params {
	opts := engine.Options{}
	for k, v := range p.Options {
		opts[k] = v
	}
	if p.Percent != nil {
		opts[engine.OptionPercent] = *p.Percent
	}
	var extra engine.Extra
	if len(p.Extra) > 0 {
		extra = engine.Extra(p.Extra)
	}
	return engine.Params{
		Pair:         p.Pair,
		Volume:       p.Volume,
		TriggerPrice: p.Trigger,
		Lifetime:     p.Lifetime,
		Options:      opts,
		Extra:        extra,
	}
}

// LoadScenario reads a YAML scenario file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, errors.Wrapf(err, "read scenario %s", path)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return sc, errors.Wrapf(err, "scenario %s", path)
	}
	return sc, nil
}

func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, errors.Wrap(err, "parse scenario")
	}
	if sc.Reference == "" {
		sc.Reference = "EUR"
	}
	sort.SliceStable(sc.Orders, func(i, j int) bool { return sc.Orders[i].Tick < sc.Orders[j].Tick })
	return sc, sc.Validate()
}

func (sc Scenario) Validate() error {
	if sc.Name == "" {
		return errors.New("scenario name is required")
	}
	for cur, amount := range sc.Balances {
		if amount < 0 {
			return errors.Errorf("balance %s must not be negative, got %v", cur, amount)
		}
	}
	for i, o := range sc.Orders {
		if o.Kind == "" {
			return errors.Errorf("order %d has no kind", i)
		}
		if o.Tick < 0 {
			return errors.Errorf("order %d placed at negative tick %d", i, o.Tick)
		}
	}
	return nil
}
