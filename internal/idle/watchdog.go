// Package idle signals when an authenticated user has been inactive for too
// long.
package idle

import (
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/internal/clock"
)

// DefaultDebounce is the minimum spacing between timer resets.
const DefaultDebounce = time.Second

// Config controls a [Watchdog].
type Config struct {
	// Timeout is the inactivity window. Zero disables the watchdog.
	Timeout time.Duration
	// WarningBefore raises a warning this long before Timeout. Zero disables
	// warnings.
	WarningBefore time.Duration
	// Debounce limits how often activity resets the timer.
	Debounce time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return errors.New("idle timeout must be >= 0")
	}
	if c.WarningBefore < 0 || (c.Timeout > 0 && c.WarningBefore >= c.Timeout) {
		return errors.New("idle warning must be >= 0 and shorter than timeout")
	}
	if c.Debounce < 0 {
		return errors.New("idle debounce must be >= 0")
	}
	return nil
}

// Handlers receive watchdog signals. Each is tagged with the generation
// passed to [Watchdog.Start]. Any handler may be nil.
type Handlers struct {
	OnTimeout  func(gen uint64)
	OnWarning  func(gen uint64, remaining time.Duration)
	OnActivity func(at time.Time)
}

// Watchdog tracks one activation at a time. Handlers run on timer
// goroutines and must not block.
type Watchdog struct {
	cfg   Config
	clock clock.Clock
	h     Handlers

	mu           sync.Mutex
	active       bool
	gen          uint64
	epoch        uint64
	lastReset    time.Time
	lastActivity time.Time
	timeout      clock.Timer
	warning      clock.Timer
}

// New creates a stopped watchdog. A nil clock uses the wall clock.
func New(cfg Config, c clock.Clock, h Handlers) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Watchdog{cfg: cfg, clock: c, h: h}
}

// Start begins an activation for gen, replacing any previous one.
func (w *Watchdog) Start(gen uint64) {
	if w.cfg.Timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	w.active = true
	w.gen = gen
	w.lastActivity = now
	w.armLocked(now, now)
}

// Stop ends the current activation without signalling.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
	w.epoch++
	w.stopTimersLocked()
}

// Active reports whether an activation is running.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Touch records user activity. Timer resets closer together than the
// debounce interval are coalesced; the activity still counts when the timer
// fires.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	now := w.clock.Now()
	w.lastActivity = now
	if now.Sub(w.lastReset) < w.cfg.Debounce {
		w.mu.Unlock()
		return
	}
	w.armLocked(now, now)
	onActivity := w.h.OnActivity
	w.mu.Unlock()

	if onActivity != nil {
		onActivity(now)
	}
}

// armLocked schedules the timers for an inactivity window that began at from.
func (w *Watchdog) armLocked(from, now time.Time) {
	w.stopTimersLocked()
	w.epoch++
	w.lastReset = now
	epoch := w.epoch

	deadline := from.Add(w.cfg.Timeout)
	w.timeout = w.clock.AfterFunc(deadline.Sub(now), func() { w.expire(epoch) })
	if w.cfg.WarningBefore > 0 {
		if d := deadline.Add(-w.cfg.WarningBefore).Sub(now); d >= 0 {
			w.warning = w.clock.AfterFunc(d, func() { w.warn(epoch) })
		}
	}
}

func (w *Watchdog) stopTimersLocked() {
	if w.timeout != nil {
		w.timeout.Stop()
		w.timeout = nil
	}
	if w.warning != nil {
		w.warning.Stop()
		w.warning = nil
	}
}

func (w *Watchdog) expire(epoch uint64) {
	w.mu.Lock()
	if !w.active || epoch != w.epoch {
		w.mu.Unlock()
		return
	}
	if now := w.clock.Now(); now.Sub(w.lastActivity) < w.cfg.Timeout {
		w.armLocked(w.lastActivity, now)
		w.mu.Unlock()
		return
	}
	w.active = false
	w.epoch++
	w.stopTimersLocked()
	gen := w.gen
	onTimeout := w.h.OnTimeout
	w.mu.Unlock()

	if onTimeout != nil {
		onTimeout(gen)
	}
}

func (w *Watchdog) warn(epoch uint64) {
	w.mu.Lock()
	if !w.active || epoch != w.epoch {
		w.mu.Unlock()
		return
	}
	gen := w.gen
	onWarning := w.h.OnWarning
	w.mu.Unlock()

	if onWarning != nil {
		onWarning(gen, w.cfg.WarningBefore)
	}
}
