package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"saganobot/internal/runtime/supervisor"
	kit "saganobot/internal/transport"
	logx "saganobot/pkg/logx"
)

// stubAdapter scripts per-call errors and signals each delivery attempt.
type stubAdapter struct {
	mu       sync.Mutex
	errs     []error // consumed per call, nil afterwards
	calls    []string
	attempts chan struct{}
	block    chan struct{} // when set, SendText waits on it
}

func newStubAdapter(errs ...error) *stubAdapter {
	return &stubAdapter{errs: errs, attempts: make(chan struct{}, 64)}
}

func (a *stubAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (a *stubAdapter) Stop(ctx context.Context) error { return nil }

func (a *stubAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	var err error
	if len(a.errs) > 0 {
		err, a.errs = a.errs[0], a.errs[1:]
	}
	a.calls = append(a.calls, text)
	block := a.block
	a.mu.Unlock()

	a.attempts <- struct{}{}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	return kit.MessageRef{ChatID: to.ChatID}, err
}

func (a *stubAdapter) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func waitAttempt(t *testing.T, a *stubAdapter) {
	t.Helper()
	select {
	case <-a.attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery attempt")
	}
}

func startService(t *testing.T, cfg Config, adapter *stubAdapter) *Service {
	t.Helper()
	s := New(cfg, adapter, logx.Nop())
	sup := supervisor.New(context.Background())
	s.Start(sup)
	t.Cleanup(func() {
		sup.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Wait(waitCtx)
	})
	return s
}

func note(chat int64, priority int, text string) kit.Notification {
	return kit.Notification{Priority: priority, Target: kit.ChatTarget{ChatID: chat}, Text: text}
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newStubAdapter(), logx.Nop())
	if err := s.Notify(context.Background(), note(1, 0, "hi")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()

	adapter := newStubAdapter()
	s := startService(t, Config{RatePerSec: 100}, adapter)
	s.Stop()
	if err := s.Notify(context.Background(), note(1, 0, "late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}

func TestDeliveryAndPriorityPrefix(t *testing.T) {
	t.Parallel()

	adapter := newStubAdapter()
	s := startService(t, Config{RatePerSec: 100}, adapter)
	ctx := context.Background()

	for _, n := range []kit.Notification{
		note(1, 0, "plain"),
		note(1, 5, "warning"),
		note(1, 8, "alert"),
	} {
		if err := s.Notify(ctx, n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		waitAttempt(t, adapter)
	}

	got := adapter.sent()
	want := []string{"plain", "⚠️ warning", "🚨 alert"}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	boom := errors.New("telegram 502")
	adapter := newStubAdapter(boom, boom) // 3rd attempt succeeds
	s := startService(t, Config{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond}, adapter)

	if err := s.Notify(context.Background(), note(1, 0, "retry me")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	for i := 0; i < 3; i++ {
		waitAttempt(t, adapter)
	}
	if got := len(adapter.sent()); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()

	adapter := newStubAdapter()
	s := startService(t, Config{RatePerSec: 100, DedupWindow: time.Hour}, adapter)
	ctx := context.Background()

	if err := s.Notify(ctx, note(1, 0, "same text")); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	waitAttempt(t, adapter)

	// Identical message inside the window is swallowed without error.
	if err := s.Notify(ctx, note(1, 0, "same text")); err != nil {
		t.Fatalf("duplicate Notify: %v", err)
	}
	// Same text to a different chat is a different key.
	if err := s.Notify(ctx, note(2, 0, "same text")); err != nil {
		t.Fatalf("other-chat Notify: %v", err)
	}
	waitAttempt(t, adapter)

	if got := len(adapter.sent()); got != 2 {
		t.Fatalf("deliveries = %d, want 2 (duplicate suppressed)", got)
	}
}

func TestDedupAllowExpiry(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newStubAdapter(), logx.Nop())
	if !s.dedupAllow("k", 20*time.Millisecond) {
		t.Fatal("first use of a key must be allowed")
	}
	if s.dedupAllow("k", 20*time.Millisecond) {
		t.Fatal("key inside the window must be suppressed")
	}
	time.Sleep(30 * time.Millisecond)
	if !s.dedupAllow("k", 20*time.Millisecond) {
		t.Fatal("key after the window must be allowed again")
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	adapter := newStubAdapter()
	adapter.block = make(chan struct{})
	s := startService(t, Config{QueueSize: 1, RatePerSec: 100}, adapter)
	ctx := context.Background()

	// First message occupies the worker, second fills the queue.
	if err := s.Notify(ctx, note(1, 0, "one")); err != nil {
		t.Fatalf("Notify one: %v", err)
	}
	waitAttempt(t, adapter)
	if err := s.Notify(ctx, note(1, 0, "two")); err != nil {
		t.Fatalf("Notify two: %v", err)
	}

	if err := s.Notify(ctx, note(1, 0, "three")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Notify three = %v, want ErrQueueFull", err)
	}
	close(adapter.block)
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 500 * time.Millisecond, RetryMaxDelay: 3 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 3 * time.Second}, // capped
		{5, 3 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(cfg, tc.attempt); got != tc.want {
			t.Errorf("retryDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var c Config
	c.applyDefaults()
	if c.QueueSize != 256 || c.RatePerSec != 3 {
		t.Errorf("queue/rate defaults = %d/%d", c.QueueSize, c.RatePerSec)
	}
	if c.RetryBase != 500*time.Millisecond || c.RetryMaxDelay != 10*time.Second {
		t.Errorf("retry defaults = %v/%v", c.RetryBase, c.RetryMaxDelay)
	}
	if c.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout default = %v", c.SendTimeout)
	}
}
