package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"saganobot/internal/probe"
	kit "saganobot/internal/transport"
	"saganobot/internal/watch"
	logx "saganobot/pkg/logx"
)

// scriptProber replays a fixed sequence of outcomes, repeating the last
// one when the script runs out.
type scriptProber struct {
	mu     sync.Mutex
	script []scriptStep
	calls  int
}

type scriptStep struct {
	res probe.Result
	err error
}

func soldOut() scriptStep { return scriptStep{res: probe.Result{}} }

func failed() scriptStep { return scriptStep{err: errors.New("timetable never rendered")} }

func available() scriptStep {
	return scriptStep{res: probe.Result{
		Available: true,
		Slots:     []string{"09:02 (Sagano 1)", "10:02 (Sagano 3)"},
		URL:       "https://example.invalid/book",
	}}
}

func (p *scriptProber) Check(ctx context.Context, req probe.Request) (probe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	step := p.script[i]
	step.res.Date = req.Date
	return step.res, step.err
}

type recordNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (n *recordNotifier) Notify(ctx context.Context, msg kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordNotifier) all() []kit.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]kit.Notification(nil), n.sent...)
}

func (n *recordNotifier) withPriority(p int) []kit.Notification {
	var out []kit.Notification
	for _, msg := range n.all() {
		if msg.Priority == p {
			out = append(out, msg)
		}
	}
	return out
}

func newTestScheduler(t *testing.T, cfg Config, script ...scriptStep) (*Scheduler, *scriptProber, *recordNotifier) {
	t.Helper()
	prober := &scriptProber{script: script}
	notifier := &recordNotifier{}
	if cfg.DefaultChat == 0 {
		cfg.DefaultChat = 1000
	}
	s, err := New(cfg, prober, notifier, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, prober, notifier
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format(watch.DateLayout)
}

func TestAlertIsEdgeTriggered(t *testing.T) {
	t.Parallel()

	s, _, notifier := newTestScheduler(t, Config{},
		soldOut(), soldOut(), available(), available(), soldOut(), available())

	date := futureDate(3)
	if _, err := s.AddWatch(date, 42); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		s.runTick(ctx, time.Now())
	}

	alerts := notifier.withPriority(8)
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2 (one per transition into availability)", len(alerts))
	}
	for _, a := range alerts {
		if a.Target.ChatID != 42 {
			t.Errorf("alert sent to chat %d, want 42", a.Target.ChatID)
		}
		if !strings.Contains(a.Text, "AVAILABLE") || !strings.Contains(a.Text, date) {
			t.Errorf("alert text missing expected content: %q", a.Text)
		}
		if !strings.Contains(a.Text, "09:02 (Sagano 1)") {
			t.Errorf("alert text missing slots: %q", a.Text)
		}
		if a.Options == nil || a.Options.ParseMode != "HTML" {
			t.Errorf("alert must be sent as HTML: %+v", a.Options)
		}
	}

	ws := s.Watches()
	if len(ws) != 1 {
		t.Fatalf("got %d watches, want 1", len(ws))
	}
	if ws[0].CheckCount != 6 {
		t.Errorf("CheckCount = %d, want 6", ws[0].CheckCount)
	}
	if ws[0].Status != watch.StatusAvailableNotified {
		t.Errorf("status = %s, want AVAILABLE_NOTIFIED", ws[0].Status)
	}
}

func TestSoldOutIsSilent(t *testing.T) {
	t.Parallel()

	s, _, notifier := newTestScheduler(t, Config{}, soldOut())
	if _, err := s.AddWatch(futureDate(2), 0); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.runTick(ctx, time.Now())
	}

	if got := notifier.all(); len(got) != 0 {
		t.Fatalf("sold-out probes must not notify, got %d messages", len(got))
	}
	ws := s.Watches()
	if ws[0].Status != watch.StatusSoldOut || ws[0].CheckCount != 3 {
		t.Errorf("watch = %+v", ws[0])
	}
}

func TestProbeFailureKeepsWatch(t *testing.T) {
	t.Parallel()

	s, _, notifier := newTestScheduler(t, Config{}, failed(), failed(), available())
	date := futureDate(2)
	if _, err := s.AddWatch(date, 7); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	ctx := context.Background()
	s.runTick(ctx, time.Now())
	s.runTick(ctx, time.Now())

	if got := notifier.all(); len(got) != 0 {
		t.Fatalf("probe failures must not notify, got %d messages", len(got))
	}
	ws := s.Watches()
	if len(ws) != 1 {
		t.Fatalf("errored watch removed, want it kept for the next tick")
	}
	if ws[0].Status != watch.StatusErrored || ws[0].CheckCount != 2 {
		t.Errorf("watch = %+v", ws[0])
	}

	// Recovery on the next tick still fires the alert.
	s.runTick(ctx, time.Now())
	if alerts := notifier.withPriority(8); len(alerts) != 1 {
		t.Fatalf("got %d alerts after recovery, want 1", len(alerts))
	}
}

func TestExpiredWatchRemoved(t *testing.T) {
	t.Parallel()

	s, prober, notifier := newTestScheduler(t, Config{}, soldOut())
	date := futureDate(1)
	if _, err := s.AddWatch(date, 9); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	// Tick as if several days have gone by.
	s.runTick(context.Background(), time.Now().AddDate(0, 0, 5))

	if prober.calls != 0 {
		t.Errorf("expired watch was probed %d times, want 0", prober.calls)
	}
	if len(s.Watches()) != 0 {
		t.Error("expired watch not removed")
	}
	msgs := notifier.all()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 removal notice", len(msgs))
	}
	want := fmt.Sprintf("📅 Date %s has passed. Removed from monitor.", date)
	if msgs[0].Text != want {
		t.Errorf("notice = %q, want %q", msgs[0].Text, want)
	}
	if msgs[0].Target.ChatID != 9 {
		t.Errorf("notice sent to chat %d, want 9", msgs[0].Target.ChatID)
	}
}

func TestTravelDayIsStillProbed(t *testing.T) {
	t.Parallel()

	s, prober, notifier := newTestScheduler(t, Config{}, available())
	date := futureDate(1)
	if _, err := s.AddWatch(date, 11); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	// Tick on the morning of the watched date itself.
	dayOf, err := time.Parse(watch.DateLayout, date)
	if err != nil {
		t.Fatal(err)
	}
	s.runTick(context.Background(), dayOf.Add(8*time.Hour))

	if prober.calls != 1 {
		t.Fatalf("watch probed %d times on its travel day, want 1", prober.calls)
	}
	ws := s.Watches()
	if len(ws) != 1 {
		t.Fatal("watch removed on its travel day")
	}
	if ws[0].Status != watch.StatusAvailableNotified {
		t.Errorf("status = %s, want AVAILABLE_NOTIFIED", ws[0].Status)
	}
	for _, m := range notifier.all() {
		if strings.Contains(m.Text, "Removed from monitor") {
			t.Errorf("removal notice sent on the travel day: %q", m.Text)
		}
	}
	if alerts := notifier.withPriority(8); len(alerts) != 1 {
		t.Errorf("got %d alerts, want 1", len(alerts))
	}
}

func TestWatchBeyondWindowRemoved(t *testing.T) {
	t.Parallel()

	s, prober, notifier := newTestScheduler(t, Config{}, soldOut())
	date := futureDate(watch.MaxLeadDays)
	if _, err := s.AddWatch(date, 13); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	// A clock stepping backwards pushes the date past the far bound.
	s.runTick(context.Background(), time.Now().AddDate(0, 0, -7))

	if prober.calls != 0 {
		t.Errorf("out-of-window watch probed %d times, want 0", prober.calls)
	}
	if len(s.Watches()) != 0 {
		t.Error("out-of-window watch not removed")
	}
	msgs := notifier.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "outside the booking window") {
		t.Fatalf("messages = %+v, want one out-of-window notice", msgs)
	}
}

func TestStatusSummaryCadence(t *testing.T) {
	t.Parallel()

	s, _, notifier := newTestScheduler(t, Config{Settings: Settings{StatusEvery: 2}}, soldOut())
	if _, err := s.AddWatch(futureDate(2), 0); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.runTick(ctx, time.Now())
	}

	summaries := notifier.withPriority(0)
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries after 5 checks with status_every=2, want 2", len(summaries))
	}
	if !strings.Contains(summaries[0].Text, "2 checks") {
		t.Errorf("first summary = %q, want check count 2", summaries[0].Text)
	}
	if !strings.Contains(summaries[1].Text, "4 checks") {
		t.Errorf("second summary = %q, want check count 4", summaries[1].Text)
	}
	// DefaultChat stands in when the watch was created without a chat.
	if summaries[0].Target.ChatID != 1000 {
		t.Errorf("summary chat = %d, want default 1000", summaries[0].Target.ChatID)
	}
}

func TestConfigureDoesNotTouchExistingWatches(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, Config{}, soldOut())
	date := futureDate(2)
	if _, err := s.AddWatch(date, 0); err != nil {
		t.Fatalf("AddWatch: %v", err)
	}

	got := s.Configure(func(set *Settings) {
		set.Seats = 3
		set.Departure = watch.StationArashiyama
	})
	if got.Seats != 3 || got.Departure != watch.StationArashiyama {
		t.Fatalf("Configure result = %+v", got)
	}

	w := s.Watches()[0]
	if w.Seats != 1 || w.Departure != watch.StationSaga {
		t.Errorf("existing watch mutated by Configure: %+v", w)
	}

	date2 := futureDate(3)
	w2, err := s.AddWatch(date2, 0)
	if err != nil {
		t.Fatalf("AddWatch: %v", err)
	}
	if w2.Seats != 3 || w2.Departure != watch.StationArashiyama {
		t.Errorf("new watch ignores updated defaults: %+v", w2)
	}
}

func TestSettingsNormalize(t *testing.T) {
	t.Parallel()

	s := Settings{Seats: 0, Interval: time.Second, StatusEvery: -3}
	s.normalize()
	if s.Seats != 1 {
		t.Errorf("Seats = %d, want 1", s.Seats)
	}
	if s.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m", s.Interval)
	}
	if s.StatusEvery != 0 {
		t.Errorf("StatusEvery = %d, want 0", s.StatusEvery)
	}
	if s.Departure != watch.StationSaga || s.Arrival != watch.StationKameoka {
		t.Errorf("default route = %s -> %s", s.Departure, s.Arrival)
	}

	s = Settings{Seats: 99}
	s.normalize()
	if s.Seats != watch.MaxSeats {
		t.Errorf("Seats = %d, want clamp to %d", s.Seats, watch.MaxSeats)
	}
}

func TestNewRejectsBadDigestSpec(t *testing.T) {
	t.Parallel()

	_, err := New(Config{DigestSpec: "not a cron spec"}, &scriptProber{script: []scriptStep{soldOut()}}, &recordNotifier{}, logx.Nop())
	if err == nil {
		t.Fatal("New accepted an invalid digest spec")
	}
}
