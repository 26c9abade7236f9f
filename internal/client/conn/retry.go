package conn

import "time"

// Retryer paces reconnection after the server drops the channel. The Manager
// calls NextDelay before every attempt, counting from 0, and gives up on the
// first false. Reset runs once the channel is back.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
	Reset()
}

// fixedDelay is the default pacing: the same pause before each attempt,
// with a budget of attempts per outage.
type fixedDelay struct {
	pause    time.Duration
	attempts int
}

// FixedDelay waits pause before each of the first attempts reconnections
func FixedDelay(pause time.Duration, attempts int) Retryer {
	return fixedDelay{pause: pause, attempts: attempts}
}

func (f fixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if attempt >= f.attempts {
		return 0, false
	}
	return f.pause, true
}

// the budget is counted by the caller, nothing to rewind
func (fixedDelay) Reset() {}
