// Package strategy defines the signal interface the execution loop consumes
// and the built-in mean-reversion implementation. Generators are pure with
// respect to I/O: they own a rolling window and nothing else, so replaying
// the same price sequence yields the same signals.
package strategy

// Signal is a trading intent derived from a price observation.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
	Close
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Close:
		return "CLOSE"
	default:
		return "HOLD"
	}
}

// Actionable reports whether the signal requires the orchestrator to act.
func (s Signal) Actionable() bool {
	return s != Hold
}

// Result pairs a signal with the statistic value that produced it, for the
// decision trail.
type Result struct {
	Signal Signal
	Stat   float64
}

// SignalGenerator turns a stream of prices into trading intents. SetPosition
// must be called by the owner whenever the confirmed position changes; the
// generator branches on flat/long/short but never mutates position itself.
type SignalGenerator interface {
	OnPrice(price float64) Result
	SetPosition(qty float64)
}
