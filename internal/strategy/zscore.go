package strategy

import "math"

// epsStdev guards the z-score against near-zero variance windows.
const epsStdev = 1e-9

// ZScoreParams configure the mean-reversion generator. Thresholds are in
// standard deviations: enter long below Lower, enter short above Upper, exit
// when the score crosses back through Exit.
type ZScoreParams struct {
	Period int
	Lower  float64
	Upper  float64
	Exit   float64
}

// ZScore is a rolling z-score mean-reversion generator over a fixed-size
// window of the last Period prices.
type ZScore struct {
	params ZScoreParams

	window []float64
	head   int
	count  int

	position float64
}

var _ SignalGenerator = (*ZScore)(nil)

func NewZScore(params ZScoreParams) *ZScore {
	if params.Period < 2 {
		params.Period = 2
	}
	return &ZScore{
		params: params,
		window: make([]float64, params.Period),
	}
}

// SetPosition informs the generator of the confirmed position quantity.
func (z *ZScore) SetPosition(qty float64) {
	z.position = qty
}

// OnPrice pushes a price into the window and evaluates the signal. Returns
// Hold until the window is full or while the window has no variance.
func (z *ZScore) OnPrice(price float64) Result {
	z.window[z.head] = price
	z.head = (z.head + 1) % len(z.window)
	if z.count < len(z.window) {
		z.count++
	}

	if z.count < len(z.window) {
		return Result{Signal: Hold}
	}

	mean, stdev := z.stats()
	if stdev < epsStdev {
		return Result{Signal: Hold}
	}
	score := (price - mean) / (stdev + epsStdev)

	switch {
	case z.position == 0:
		if score < z.params.Lower {
			return Result{Signal: Buy, Stat: score}
		}
		if score > z.params.Upper {
			return Result{Signal: Sell, Stat: score}
		}
	case z.position > 0:
		if score >= z.params.Exit {
			return Result{Signal: Close, Stat: score}
		}
	default:
		if score <= z.params.Exit {
			return Result{Signal: Close, Stat: score}
		}
	}
	return Result{Signal: Hold, Stat: score}
}

func (z *ZScore) stats() (mean, stdev float64) {
	n := float64(z.count)
	var sum float64
	for _, p := range z.window[:z.count] {
		sum += p
	}
	mean = sum / n

	var sq float64
	for _, p := range z.window[:z.count] {
		d := p - mean
		sq += d * d
	}
	stdev = math.Sqrt(sq / n)
	return mean, stdev
}
