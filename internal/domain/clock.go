package domain

import "github.com/jonboulle/clockwork"

// clock backs EvaluateNow and the "now" fallback for observations without a
// timestamp. Offline tools and tests pin it with SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
