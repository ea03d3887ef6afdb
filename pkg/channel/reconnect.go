package channel

import "time"

// ReconnectPolicy yields the delay before each reconnect attempt. The
// source families disagreed on backoff behavior (fixed-delay WebSocket
// gateway vs exponential-backoff mailbox); keeping the policy explicit
// makes that a reviewable per-adapter choice instead of an accident.
type ReconnectPolicy interface {
	// Next returns the delay before the next attempt and advances the
	// policy's internal state.
	Next() time.Duration

	// Reset restores the initial delay after a successful connect.
	Reset()
}

// FixedDelay always waits the same interval between attempts.
type FixedDelay struct {
	Delay time.Duration
}

// NewFixedDelay returns a fixed-interval reconnect policy.
func NewFixedDelay(d time.Duration) *FixedDelay {
	return &FixedDelay{Delay: d}
}

func (p *FixedDelay) Next() time.Duration { return p.Delay }

func (p *FixedDelay) Reset() {}

// ExponentialBackoff doubles the delay on every attempt up to a ceiling
// and resets to the initial delay on any successful reconnect.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	current time.Duration
}

// NewExponentialBackoff returns a doubling backoff policy.
func NewExponentialBackoff(initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Max: max}
}

func (p *ExponentialBackoff) Next() time.Duration {
	if p.current == 0 {
		p.current = p.Initial
	}
	d := p.current
	p.current *= 2
	if p.current > p.Max {
		p.current = p.Max
	}
	return d
}

func (p *ExponentialBackoff) Reset() {
	p.current = 0
}
