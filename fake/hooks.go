// Package fake provides in-memory implementations of the authflow service
// interfaces for tests and the simulator.
//
// Every fake embeds [Hooks], which can inject latency, queue failures and
// hold calls until released, per operation name.
package fake

import (
	"context"
	"sync"
	"time"
)

// Operation names accepted by [Hooks].
const (
	OpSignIn          = "SignInWithPassword"
	OpSignUp          = "SignUp"
	OpSignOut         = "SignOut"
	OpResetPassword   = "ResetPasswordForEmail"
	OpCurrentSession  = "CurrentSession"
	OpRefreshSession  = "RefreshSession"
	OpFetchProfile    = "FetchProfile"
	OpFetchAgreement  = "FetchAgreementStatus"
	OpRecordAgreement = "RecordAcceptance"
)

// Hooks injects faults into fake operations.
type Hooks struct {
	mu      sync.Mutex
	latency map[string]time.Duration
	queued  map[string][]error
	always  map[string]error
	blocks  map[string]chan struct{}
	calls   map[string]int
}

func (h *Hooks) init() {
	h.latency = map[string]time.Duration{}
	h.queued = map[string][]error{}
	h.always = map[string]error{}
	h.blocks = map[string]chan struct{}{}
	h.calls = map[string]int{}
}

// SetLatency delays every call of op by d.
func (h *Hooks) SetLatency(op string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latency[op] = d
}

// FailNext makes the next len(errs) calls of op fail with errs in order.
func (h *Hooks) FailNext(op string, errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued[op] = append(h.queued[op], errs...)
}

// FailAlways makes every call of op fail with err until cleared with a nil
// err.
func (h *Hooks) FailAlways(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.always, op)
		return
	}
	h.always[op] = err
}

// Block holds calls of op until release is called or the call's context
// ends.
func (h *Hooks) Block(op string) (release func()) {
	ch := make(chan struct{})
	h.mu.Lock()
	h.blocks[op] = ch
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.blocks[op] == ch {
				delete(h.blocks, op)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op was invoked.
func (h *Hooks) Calls(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

func (h *Hooks) enter(ctx context.Context, op string) error {
	h.mu.Lock()
	h.calls[op]++
	block := h.blocks[op]
	latency := h.latency[op]
	var err error
	if q := h.queued[op]; len(q) > 0 {
		err = q[0]
		h.queued[op] = q[1:]
	} else if e, ok := h.always[op]; ok {
		err = e
	}
	h.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
