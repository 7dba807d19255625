package gate

import (
	"sync"
	"time"
)

// breaker tracks windowed failures for one capability. It trips once when
// the failure count inside the window reaches the threshold and stays
// tripped until a success resets it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration

	failures []time.Time
	tripped  bool
	lastTrip time.Time
}

func newBreaker(threshold int, window time.Duration) *breaker {
	return &breaker{threshold: threshold, window: window}
}

// recordFailure counts one failure. It returns the failure count inside the
// current window and whether this call flipped the breaker to tripped.
func (b *breaker) recordFailure() (count int, justTripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.failures = append(b.failures, now)
	b.prune(now)

	count = len(b.failures)
	if !b.tripped && count >= b.threshold {
		b.tripped = true
		b.lastTrip = now
		return count, true
	}
	return count, false
}

// recordSuccess clears the failure window and re-arms the breaker.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.tripped = false
}

func (b *breaker) isTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

func (b *breaker) lastTripTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTrip
}

// prune drops failures older than the window. Caller holds b.mu.
func (b *breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
