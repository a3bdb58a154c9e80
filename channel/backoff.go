package channel

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// schedule yields base, 2*base, 4*base... with no jitter. It always holds
// the next delay so Delay() can report it before the retry is armed.
type schedule struct {
	exp  *backoff.ExponentialBackOff
	next time.Duration
}

// newSchedule builds a doubling schedule. A zero ceiling leaves the delay
// unbounded; only the attempt count stops the retries then.
func newSchedule(base, ceiling time.Duration) *schedule {
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}

	s := &schedule{
		exp: &backoff.ExponentialBackOff{
			InitialInterval:     base,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         ceiling,
		},
	}
	s.reset()
	return s
}

func (s *schedule) reset() {
	s.exp.Reset()
	s.next = s.exp.NextBackOff()
}

// advance returns the delay to wait now and doubles the one after it.
func (s *schedule) advance() time.Duration {
	d := s.next
	s.next = s.exp.NextBackOff()
	return d
}

func (s *schedule) peek() time.Duration {
	return s.next
}
