package engine

// Account is the ledger the scheduler trades against.
// Buy and Sell report a Confirmation; an error means the call itself was invalid.
type Account interface {
	Buy(volume, rate float64, pair Pair, extra Extra) (Confirmation, error)
	Sell(volume, rate float64, pair Pair, extra Extra) (Confirmation, error)
	Clock() int64
	// AdvanceTick moves the account one step forward; args are account specific
	AdvanceTick(args ...interface{}) error
}
