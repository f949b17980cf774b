package idle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/internal/clock"
)

func newTestWatchdog(cfg Config) (*Watchdog, *clock.Fake, *atomic.Int32, *atomic.Uint64) {
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	var fired atomic.Int32
	var lastGen atomic.Uint64
	w := New(cfg, c, Handlers{OnTimeout: func(gen uint64) {
		fired.Add(1)
		lastGen.Store(gen)
	}})
	return w, c, &fired, &lastGen
}

func TestWatchdogFiresOncePerActivation(t *testing.T) {
	w, c, fired, gen := newTestWatchdog(Config{Timeout: 10 * time.Minute})
	w.Start(7)

	c.Advance(10 * time.Minute)
	c.Advance(time.Hour)
	if fired.Load() != 1 {
		t.Fatalf("expected one timeout, got %d", fired.Load())
	}
	if gen.Load() != 7 {
		t.Fatalf("expected generation 7, got %d", gen.Load())
	}
	if w.Active() {
		t.Fatal("watchdog must deactivate after firing")
	}

	w.Touch()
	c.Advance(time.Hour)
	if fired.Load() != 1 {
		t.Fatal("touch after expiry must not rearm")
	}
}

func TestWatchdogTouchPostponesTimeout(t *testing.T) {
	w, c, fired, _ := newTestWatchdog(Config{Timeout: 10 * time.Minute})
	w.Start(1)

	c.Advance(9 * time.Minute)
	w.Touch()
	c.Advance(9 * time.Minute)
	if fired.Load() != 0 {
		t.Fatal("touch should have postponed the timeout")
	}
	c.Advance(time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("expected timeout 10m after last touch, got %d", fired.Load())
	}
}

func TestWatchdogDebounce(t *testing.T) {
	var activity atomic.Int32
	c := clock.NewFake(time.Unix(0, 0))
	w := New(Config{Timeout: time.Minute, Debounce: 5 * time.Second}, c, Handlers{
		OnActivity: func(time.Time) { activity.Add(1) },
	})
	w.Start(1)

	for i := 0; i < 10; i++ {
		c.Advance(100 * time.Millisecond)
		w.Touch()
	}
	if activity.Load() != 0 {
		t.Fatalf("touches inside debounce window must be dropped, got %d", activity.Load())
	}
	c.Advance(5 * time.Second)
	w.Touch()
	if activity.Load() != 1 {
		t.Fatalf("expected one activity signal, got %d", activity.Load())
	}
}

func TestWatchdogDebouncedTouchStillCounts(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var fired atomic.Int32
	w := New(Config{Timeout: time.Minute, Debounce: 5 * time.Second}, c, Handlers{
		OnTimeout: func(uint64) { fired.Add(1) },
	})
	w.Start(1)

	c.Advance(2 * time.Second)
	w.Touch() // inside debounce window, no reset
	c.Advance(time.Minute - time.Second)
	if fired.Load() != 0 {
		t.Fatal("timeout fired before a full window without activity")
	}
	c.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("expected timeout one window after the last touch, got %d", fired.Load())
	}
}

func TestWatchdogActivityJustBeforeDeadline(t *testing.T) {
	w, c, fired, _ := newTestWatchdog(Config{Timeout: 10 * time.Minute})
	w.Start(1)
	c.Advance(10*time.Minute - time.Millisecond)
	w.Touch()
	c.Advance(time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("activity at T-1ms must suppress the logout")
	}
	c.Advance(10 * time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one timeout, got %d", fired.Load())
	}
}

func TestWatchdogStopSuppressesSignal(t *testing.T) {
	w, c, fired, _ := newTestWatchdog(Config{Timeout: time.Minute})
	w.Start(1)
	w.Stop()
	c.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatal("stopped watchdog must not fire")
	}
	if c.Pending() != 0 {
		t.Fatalf("expected timers released, pending=%d", c.Pending())
	}
}

func TestWatchdogRestartUsesNewGeneration(t *testing.T) {
	w, c, fired, gen := newTestWatchdog(Config{Timeout: time.Minute})
	w.Start(1)
	c.Advance(30 * time.Second)
	w.Start(2)
	c.Advance(45 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("restart must discard the first activation's timer")
	}
	c.Advance(15 * time.Second)
	if fired.Load() != 1 || gen.Load() != 2 {
		t.Fatalf("fired=%d gen=%d", fired.Load(), gen.Load())
	}
}

func TestWatchdogWarning(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var warned atomic.Int32
	w := New(Config{Timeout: 10 * time.Minute, WarningBefore: time.Minute}, c, Handlers{
		OnWarning: func(_ uint64, remaining time.Duration) {
			if remaining != time.Minute {
				t.Errorf("remaining=%v", remaining)
			}
			warned.Add(1)
		},
	})
	w.Start(1)
	c.Advance(9 * time.Minute)
	if warned.Load() != 1 {
		t.Fatalf("expected warning, got %d", warned.Load())
	}
}

func TestWatchdogDisabled(t *testing.T) {
	w, c, fired, _ := newTestWatchdog(Config{})
	w.Start(1)
	c.Advance(24 * time.Hour)
	if w.Active() || fired.Load() != 0 {
		t.Fatal("zero timeout disables the watchdog")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Timeout: time.Minute, WarningBefore: time.Minute}).Validate(); err == nil {
		t.Fatal("warning equal to timeout should be rejected")
	}
	if err := (Config{Timeout: -1}).Validate(); err == nil {
		t.Fatal("negative timeout should be rejected")
	}
	if err := (Config{Timeout: time.Minute, WarningBefore: 10 * time.Second}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
