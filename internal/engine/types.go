package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// Confirmation is the tri-state outcome of a transaction attempt
type Confirmation int

const (
	Rejected Confirmation = -1
	Pending  Confirmation = 0
	Filled   Confirmation = 1
)

func (c Confirmation) String() string {
	switch c {
	case Filled:
		return "filled"
	case Pending:
		return "pending"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("confirmation(%d)", int(c))
	}
}

// OrderKind identifies a registered order function
type OrderKind int

const (
	KindStopLoss OrderKind = iota + 1
	KindTrailingStopLoss
	KindStartBuy
	KindBuyLimit
	KindSellLimit

	// custom kinds are allocated from here by the registry
	firstCustomKind
)

// Origin tells the lifecycle guard who invoked an order function
type Origin int

const (
	DirectCall Origin = iota
	HeapReplay
)

func (o Origin) String() string {
	if o == HeapReplay {
		return "heap"
	}
	return "direct"
}

// Pair is a (base, quote) instrument pair
type Pair struct {
	Base  string
	Quote string
}

func NewPair(base, quote string) Pair {
	return Pair{Base: base, Quote: quote}
}

// ParsePair parses the "BASE/QUOTE" text form
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected BASE/QUOTE", s)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

func (p Pair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}

// MarshalText lets pairs be used as JSON and YAML map keys
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Options holds kind-specific order state such as the trailing reference rate
type Options map[string]interface{}

// Extra is passed through untouched to the account's Buy and Sell
type Extra map[string]interface{}

// Params are the arguments of a direct order placement
type Params struct {
	Pair         Pair
	Volume       float64
	TriggerPrice float64
	Lifetime     int64
	Options      Options
	Extra        Extra
}

// OrderRecord is one pending conditional order resident in the order heap
type OrderRecord struct {
	ID           string    `json:"id"`
	Kind         OrderKind `json:"kind"`
	Pair         Pair      `json:"pair"`
	TriggerPrice float64   `json:"trigger_price"`
	Volume       float64   `json:"volume"`
	Lifetime     int64     `json:"lifetime"`
	CreatedTick  int64     `json:"created_tick"`
	ExpiryTick   int64     `json:"expiry_tick"`
	Options      Options   `json:"options,omitempty"`
	Extra        Extra     `json:"extra,omitempty"`
}

// Matches reports whether two records carry the same kind and parameter set.
// The ID is ignored: identical orders placed twice are one logical entry.
func (r *OrderRecord) Matches(other *OrderRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Kind == other.Kind &&
		r.Pair == other.Pair &&
		r.TriggerPrice == other.TriggerPrice &&
		r.Volume == other.Volume &&
		r.Lifetime == other.Lifetime &&
		r.CreatedTick == other.CreatedTick &&
		r.ExpiryTick == other.ExpiryTick &&
		sameBag(r.Options, other.Options) &&
		sameBag(r.Extra, other.Extra)
}

// Clone returns a deep enough copy for callers outside the engine
func (r *OrderRecord) Clone() OrderRecord {
	out := *r
	if r.Options != nil {
		out.Options = make(Options, len(r.Options))
		for k, v := range r.Options {
			out.Options[k] = v
		}
	}
	if r.Extra != nil {
		out.Extra = make(Extra, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func sameBag[M ~map[string]interface{}](a, b M) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// RateUpdate maps pairs to the rate observed this tick
type RateUpdate map[Pair]float64

// Warning is a non-fatal condition surfaced to the caller of Tick
type Warning struct {
	Clock   int64  `json:"clock"`
	Message string `json:"message"`
}

// EventType classifies engine events
type EventType int

const (
	EventQueued EventType = iota
	EventFilled
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventQueued:
		return "queued"
	case EventFilled:
		return "filled"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event reports a change to the order heap
type Event struct {
	Type   EventType
	Clock  int64
	Origin Origin
	Record OrderRecord
}
