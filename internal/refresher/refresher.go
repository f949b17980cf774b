// Package refresher renews the session credential ahead of its expiry.
package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrEthical07/authflow/internal/clock"
)

// Config controls a [Refresher].
type Config struct {
	// Lead is how long before expiry a refresh is attempted.
	Lead time.Duration
	// PollInterval is used when the expiry is unknown. Zero disables
	// scheduling without an expiry.
	PollInterval time.Duration
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Lead < 0 || c.PollInterval < 0 {
		return errors.New("refresh lead and poll interval must be >= 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("refresh max retries must be >= 0")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return errors.New("refresh backoff must be > 0 and max >= initial")
	}
	if c.Timeout <= 0 {
		return errors.New("refresh timeout must be > 0")
	}
	return nil
}

// Func performs one refresh attempt.
type Func[T any] func(ctx context.Context) (T, error)

// Handlers receive results tagged with the generation they were scheduled
// for. Results of cancelled or replaced jobs are never delivered.
type Handlers[T any] struct {
	OnSuccess func(gen uint64, v T)
	OnFailure func(gen uint64, err error)
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(gen uint64, err error, wait time.Duration)
	// Permanent reports errors that must not be retried.
	Permanent func(err error) bool
}

// Refresher runs at most one pending refresh job.
type Refresher[T any] struct {
	cfg   Config
	clock clock.Clock
	fn    Func[T]
	h     Handlers[T]

	base       context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	epoch   uint64
	timer   clock.Timer
	running context.CancelFunc
	closed  bool
}

// New creates an idle refresher. A nil clock uses the wall clock.
func New[T any](cfg Config, c clock.Clock, fn Func[T], h Handlers[T]) *Refresher[T] {
	if c == nil {
		c = clock.Real()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Refresher[T]{
		cfg:        cfg,
		clock:      c,
		fn:         fn,
		h:          h,
		base:       base,
		baseCancel: cancel,
	}
}

// Delay returns how long Schedule would wait for expiresAt. ok is false when
// nothing would be scheduled.
func (r *Refresher[T]) Delay(expiresAt time.Time) (d time.Duration, ok bool) {
	if expiresAt.IsZero() {
		if r.cfg.PollInterval <= 0 {
			return 0, false
		}
		return r.cfg.PollInterval, true
	}
	d = expiresAt.Sub(r.clock.Now()) - r.cfg.Lead
	if d < 0 {
		d = 0
	}
	return d, true
}

// Schedule replaces any pending job with a refresh for gen ahead of
// expiresAt. It reports whether a job was scheduled.
func (r *Refresher[T]) Schedule(gen uint64, expiresAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.cancelLocked()

	d, ok := r.Delay(expiresAt)
	if !ok {
		return false
	}
	epoch := r.epoch
	r.timer = r.clock.AfterFunc(d, func() { r.run(epoch, gen) })
	return true
}

// Cancel drops the pending job and aborts one in flight.
func (r *Refresher[T]) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

// Close cancels everything; later Schedule calls are ignored.
func (r *Refresher[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	r.closed = true
	r.baseCancel()
}

func (r *Refresher[T]) cancelLocked() {
	r.epoch++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.running != nil {
		r.running()
		r.running = nil
	}
}

func (r *Refresher[T]) run(epoch, gen uint64) {
	r.mu.Lock()
	if r.closed || epoch != r.epoch {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.base)
	r.running = cancel
	r.timer = nil
	r.mu.Unlock()
	defer cancel()

	v, err := r.attempt(ctx, gen)

	r.mu.Lock()
	if r.closed || epoch != r.epoch {
		r.mu.Unlock()
		return
	}
	r.running = nil
	r.mu.Unlock()

	if err != nil {
		if r.h.OnFailure != nil {
			r.h.OnFailure(gen, err)
		}
		return
	}
	if r.h.OnSuccess != nil {
		r.h.OnSuccess(gen, v)
	}
}

func (r *Refresher[T]) attempt(ctx context.Context, gen uint64) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff

	op := func() (T, error) {
		actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		v, err := r.fn(actx)
		if err != nil && r.h.Permanent != nil && r.h.Permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if r.h.OnRetry != nil {
				r.h.OnRetry(gen, err, wait)
			}
		}),
	)
}
