// Package framelimiter paces a loop to a target rate by sleeping the
// residual of 1/rate minus however long the loop body just took. Grounded on
// lib/framelimiter.py's FrameLimiter.
package framelimiter

import "time"

// Limiter paces repeated calls to Wait to at most rate per second.
type Limiter struct {
	sleep   time.Duration
	lastRun time.Time
	have    bool
}

// New builds a limiter for the given rate in frames per second. A
// non-positive rate disables pacing entirely (Wait always returns
// immediately), matching the Python's `1.0/fps if fps > 0 else 0`.
func New(rate float64) *Limiter {
	var sleep time.Duration
	if rate > 0 {
		sleep = time.Duration(float64(time.Second) / rate)
	}
	return &Limiter{sleep: sleep}
}

// Wait blocks long enough that the time since the previous Wait call is at
// least the configured period, then records the new reference point.
func (l *Limiter) Wait() {
	if l.have {
		elapsed := time.Since(l.lastRun)
		if remaining := l.sleep - elapsed; remaining > 0 {
			time.Sleep(remaining)
		}
	}
	l.lastRun = time.Now()
	l.have = true
}
