package syncengine

import "time"

const (
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 32000 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxAttempts  = 5
)

// Policy is the per-entry retry budget.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

func (p Policy) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * p.Multiplier)
	if n > p.MaxDelay || n < current {
		return p.MaxDelay
	}
	return n
}

// Delays lists the sleeps an always-failing entry goes through.
func (p Policy) Delays() []time.Duration {
	p = p.withDefaults()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	d := p.InitialDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, d)
		d = p.next(d)
	}
	return delays
}
