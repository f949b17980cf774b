package refresher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/internal/clock"
)

var errUpstream = errors.New("upstream unavailable")

func testConfig() Config {
	return Config{
		Lead:           time.Minute,
		PollInterval:   5 * time.Minute,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Timeout:        time.Second,
	}
}

type recorder struct {
	mu       sync.Mutex
	success  []uint64
	failures []error
	failGen  []uint64
}

func (r *recorder) handlers() Handlers[string] {
	return Handlers[string]{
		OnSuccess: func(gen uint64, _ string) {
			r.mu.Lock()
			r.success = append(r.success, gen)
			r.mu.Unlock()
		},
		OnFailure: func(gen uint64, err error) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.failGen = append(r.failGen, gen)
			r.mu.Unlock()
		},
	}
}

func TestScheduleRunsLeadBeforeExpiry(t *testing.T) {
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	var calls atomic.Int32
	rec := &recorder{}
	r := New(testConfig(), c, func(context.Context) (string, error) {
		calls.Add(1)
		return "tok-2", nil
	}, rec.handlers())
	defer r.Close()

	if !r.Schedule(3, c.Now().Add(10*time.Minute)) {
		t.Fatal("expected a job")
	}
	c.Advance(8 * time.Minute)
	if calls.Load() != 0 {
		t.Fatal("refresh ran too early")
	}
	c.Advance(time.Minute)
	if calls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", calls.Load())
	}
	if len(rec.success) != 1 || rec.success[0] != 3 {
		t.Fatalf("unexpected success record %v", rec.success)
	}
}

func TestRetriesThenReportsFailure(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	rec := &recorder{}
	r := New(testConfig(), c, func(context.Context) (string, error) {
		calls.Add(1)
		return "", errUpstream
	}, rec.handlers())
	defer r.Close()

	r.Schedule(1, c.Now())
	c.Advance(0)

	if calls.Load() != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", calls.Load())
	}
	if len(rec.failures) != 1 || !errors.Is(rec.failures[0], errUpstream) {
		t.Fatalf("unexpected failures %v", rec.failures)
	}
}

func TestRetryRecovers(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	rec := &recorder{}
	r := New(testConfig(), c, func(context.Context) (string, error) {
		if calls.Add(1) < 2 {
			return "", errUpstream
		}
		return "ok", nil
	}, rec.handlers())
	defer r.Close()

	r.Schedule(1, time.Time{})
	c.Advance(5 * time.Minute)
	if len(rec.success) != 1 || len(rec.failures) != 0 {
		t.Fatalf("success=%v failures=%v", rec.success, rec.failures)
	}
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	errRevoked := errors.New("revoked")
	c := clock.NewFake(time.Unix(0, 0))
	var calls atomic.Int32
	rec := &recorder{}
	h := rec.handlers()
	h.Permanent = func(err error) bool { return errors.Is(err, errRevoked) }
	r := New(testConfig(), c, func(context.Context) (string, error) {
		calls.Add(1)
		return "", errRevoked
	}, h)
	defer r.Close()

	r.Schedule(1, c.Now())
	c.Advance(0)
	if calls.Load() != 1 {
		t.Fatalf("permanent error retried %d times", calls.Load())
	}
	if len(rec.failures) != 1 || !errors.Is(rec.failures[0], errRevoked) {
		t.Fatalf("unexpected failures %v", rec.failures)
	}
}

func TestScheduleReplacesPendingJob(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	r := New(testConfig(), c, func(context.Context) (string, error) { return "x", nil }, rec.handlers())
	defer r.Close()

	r.Schedule(1, c.Now().Add(10*time.Minute))
	r.Schedule(2, c.Now().Add(20*time.Minute))
	c.Advance(time.Hour)
	if len(rec.success) != 1 || rec.success[0] != 2 {
		t.Fatalf("only the replacement job may run, got %v", rec.success)
	}
}

func TestCancelDropsPendingJob(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	r := New(testConfig(), c, func(context.Context) (string, error) { return "x", nil }, rec.handlers())
	defer r.Close()

	r.Schedule(1, c.Now().Add(2*time.Minute))
	r.Cancel()
	c.Advance(time.Hour)
	if len(rec.success)+len(rec.failures) != 0 {
		t.Fatal("cancelled job delivered a result")
	}
}

func TestCancelDuringFlightDiscardsResult(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	r := New(testConfig(), clock.Real(), func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "late", nil
	}, rec.handlers())
	defer r.Close()

	r.Schedule(1, time.Now())
	<-started
	r.Cancel()
	close(release)

	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.success)+len(rec.failures) != 0 {
		t.Fatalf("in-flight result of cancelled job delivered: %v %v", rec.success, rec.failures)
	}
}

func TestUnknownExpiryWithoutPollingSchedulesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 0
	r := New(cfg, clock.NewFake(time.Unix(0, 0)), func(context.Context) (string, error) { return "", nil }, Handlers[string]{})
	defer r.Close()
	if r.Schedule(1, time.Time{}) {
		t.Fatal("expected no job without expiry or polling")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := testConfig()
	bad.MaxBackoff = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("max backoff below initial should be rejected")
	}
}
