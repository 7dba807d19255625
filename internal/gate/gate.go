// Package gate limits concurrent calls to the reasoning model per capability
// and contains repeated failures behind a windowed circuit breaker. Every
// outbound model call acquires a slot here first.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbaxszy7/mnemora/internal/events"
)

// Config configures slot capacities, call deadlines and breaker behavior.
// Per-capability entries override the defaults.
type Config struct {
	DefaultCapacity    int
	DefaultCallTimeout time.Duration
	Capacities         map[string]int
	CallTimeouts       map[string]time.Duration

	FailureThreshold int
	FailureWindow    time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCapacity:    2,
		DefaultCallTimeout: 2 * time.Minute,
		Capacities: map[string]int{
			"text":      2,
			"vision":    1,
			"embedding": 4,
		},
		FailureThreshold: 5,
		FailureWindow:    2 * time.Minute,
	}
}

// CallGate is the shared call-admission point for all model capabilities.
// Slot counters and breaker state are only mutated through its methods.
type CallGate struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	slots    map[string]chan struct{}
	breakers map[string]*breaker
	closed   bool
	closeCh  chan struct{}
}

// New creates a call gate. The bus may be nil; trips are then only logged.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *CallGate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 1
	}
	if cfg.DefaultCallTimeout <= 0 {
		cfg.DefaultCallTimeout = 2 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 2 * time.Minute
	}
	return &CallGate{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		slots:    make(map[string]chan struct{}),
		breakers: make(map[string]*breaker),
		closeCh:  make(chan struct{}),
	}
}

// Slot is a held capacity unit. Release is safe to call more than once;
// only the first call returns the slot.
type Slot struct {
	capability string
	release    func()
	once       sync.Once
}

// Release returns the slot to its capability pool.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Capability reports which capability pool the slot belongs to.
func (s *Slot) Capability() string { return s.capability }

// Acquire blocks until a slot for the capability is free, the context is
// cancelled, or the gate is closed. Waiters on the same capability are
// granted slots in arrival order; capabilities never block each other.
func (c *CallGate) Acquire(ctx context.Context, capability string) (*Slot, error) {
	sem := c.semaphore(capability)
	start := time.Now()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		c.logger.Warn("gate acquire cancelled",
			"capability", capability, "waited", time.Since(start))
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, fmt.Errorf("call gate closed")
	}

	if waited := time.Since(start); waited > 100*time.Millisecond {
		c.logger.Debug("gate slot acquired after wait",
			"capability", capability, "waited", waited)
	}
	return &Slot{
		capability: capability,
		release:    func() { <-sem },
	}, nil
}

// WithSlot runs fn while holding a slot for the capability. The context
// passed to fn carries the capability's call deadline composed with the
// caller's own cancellation; whichever fires first aborts the call. The
// slot is released on every exit path, including panics.
func (c *CallGate) WithSlot(ctx context.Context, capability string, fn func(ctx context.Context) error) error {
	slot, err := c.Acquire(ctx, capability)
	if err != nil {
		return err
	}
	defer slot.Release()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout(capability))
	defer cancel()

	return fn(callCtx)
}

// RecordSuccess resets the capability's failure tracking and re-arms its
// breaker.
func (c *CallGate) RecordSuccess(capability string) {
	c.breaker(capability).recordSuccess()
}

// RecordFailure counts a failure against the capability. Crossing the
// configured threshold within the failure window trips the breaker and
// emits exactly one fuse-tripped event; re-tripping requires an
// intervening RecordSuccess.
func (c *CallGate) RecordFailure(capability string, callErr error) {
	count, tripped := c.breaker(capability).recordFailure()
	if callErr != nil {
		c.logger.Debug("gate failure recorded",
			"capability", capability, "failures", count, "error", callErr)
	}
	if !tripped {
		return
	}
	c.logger.Warn("circuit breaker tripped",
		"capability", capability, "failures", count, "window", c.cfg.FailureWindow)
	if c.bus != nil {
		c.bus.PublishFuseTripped(events.FuseTripped{
			Capability: capability,
			Count:      count,
			Window:     c.cfg.FailureWindow,
		})
	}
}

// Tripped reports whether the capability's breaker is currently tripped.
// A tripped breaker is advisory: Acquire keeps granting slots.
func (c *CallGate) Tripped(capability string) bool {
	return c.breaker(capability).isTripped()
}

// Close aborts all waiting Acquire calls. Already-held slots stay valid
// and must still be released by their holders.
func (c *CallGate) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeCh)
}

func (c *CallGate) capacity(capability string) int {
	if n, ok := c.cfg.Capacities[capability]; ok && n > 0 {
		return n
	}
	return c.cfg.DefaultCapacity
}

func (c *CallGate) callTimeout(capability string) time.Duration {
	if d, ok := c.cfg.CallTimeouts[capability]; ok && d > 0 {
		return d
	}
	return c.cfg.DefaultCallTimeout
}

func (c *CallGate) semaphore(capability string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.slots[capability]
	if !ok {
		sem = make(chan struct{}, c.capacity(capability))
		c.slots[capability] = sem
	}
	return sem
}

func (c *CallGate) breaker(capability string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	br, ok := c.breakers[capability]
	if !ok {
		br = newBreaker(c.cfg.FailureThreshold, c.cfg.FailureWindow)
		c.breakers[capability] = br
	}
	return br
}

// InFlight reports how many slots are currently held for the capability.
func (c *CallGate) InFlight(capability string) int {
	return len(c.semaphore(capability))
}
