// Package monitor drives the availability tick loop: it owns the watch
// registry, probes every active watch at a fixed cadence, applies the
// per-watch state machine and emits alerts and status summaries.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"saganobot/internal/probe"
	kit "saganobot/internal/transport"
	"saganobot/internal/watch"
	logx "saganobot/pkg/logx"
)

// Settings are the runtime-mutable monitoring knobs. Seats/Departure/
// Arrival are defaults merged into watches at creation time; Interval and
// StatusEvery steer the loop itself. Changes apply to subsequent ticks
// and subsequent watches, never retroactively.
type Settings struct {
	Seats       int
	Departure   watch.Station
	Arrival     watch.Station
	Interval    time.Duration
	StatusEvery int // liveness summary every N checks per watch, 0 disables
}

// MinInterval bounds how hard the booking site may be polled.
const MinInterval = 15 * time.Second

func (s *Settings) normalize() {
	if s.Seats < 1 {
		s.Seats = 1
	}
	if s.Seats > watch.MaxSeats {
		s.Seats = watch.MaxSeats
	}
	if s.Departure == "" {
		s.Departure = watch.StationSaga
	}
	if s.Arrival == "" {
		s.Arrival = watch.StationKameoka
	}
	if s.Interval < MinInterval {
		s.Interval = time.Minute
	}
	if s.StatusEvery < 0 {
		s.StatusEvery = 0
	}
}

// Notifier is the outbound side of the scheduler; implemented by the
// notify pipeline.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Config struct {
	Settings     Settings
	ProbeTimeout time.Duration // per probe, default 45s
	DefaultChat  int64         // fallback destination for alerts/notices
	Source       string        // cosmetic tag on outgoing alerts
	DigestSpec   string        // optional cron spec for the daily digest
}

// Scheduler is the single scheduling domain of the process. Its mutex is
// the one critical section that serializes command-driven mutations
// against each tick's read-modify-write pass; probing and notification
// delivery happen outside of it.
type Scheduler struct {
	mu       sync.Mutex
	registry *watch.Registry
	settings Settings

	prober   probe.Prober
	notifier Notifier
	log      logx.Logger

	probeTimeout time.Duration
	defaultChat  int64
	source       string

	digest digestSchedule
}

func New(cfg Config, prober probe.Prober, notifier Notifier, log logx.Logger) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Settings.normalize()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 45 * time.Second
	}
	digest, err := parseDigestSpec(cfg.DigestSpec)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		registry:     watch.NewRegistry(),
		settings:     cfg.Settings,
		prober:       prober,
		notifier:     notifier,
		log:          log,
		probeTimeout: cfg.ProbeTimeout,
		defaultChat:  cfg.DefaultChat,
		source:       cfg.Source,
		digest:       digest,
	}, nil
}

// ---- command-facing API (all serialized on s.mu) ----

// AddWatch creates a watch for the date using the current defaults.
func (s *Scheduler) AddWatch(date string, chatID int64) (watch.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := watch.Defaults{Departure: s.settings.Departure, Arrival: s.settings.Arrival, Seats: s.settings.Seats}
	return s.registry.Add(date, time.Now(), def, watch.Overrides{ChatID: chatID})
}

// RemoveWatch removes one watch; no-op (false) when absent.
func (s *Scheduler) RemoveWatch(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Remove(date)
}

// RemoveAll drops every watch and returns how many were removed.
func (s *Scheduler) RemoveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.RemoveAll()
}

// Watches returns a snapshot ordered by date ascending.
func (s *Scheduler) Watches() []watch.Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.List()
}

// Settings returns the current runtime settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Configure mutates the runtime settings under the scheduler mutex and
// returns the result. Existing watches keep their stored values.
func (s *Scheduler) Configure(mutate func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.settings)
	s.settings.normalize()
	return s.settings
}

// ---- tick loop ----

// Run drives ticks until ctx is cancelled. Interval changes made through
// Configure take effect at the next timer reset; a watch added or removed
// mid-tick takes effect on the following tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Duration("interval", s.Settings().Interval),
		logx.Bool("digest", s.digest.enabled()))

	timer := time.NewTimer(s.Settings().Interval)
	defer timer.Stop()
	digestTimer, stopDigest := s.digest.timer(time.Now())
	defer stopDigest()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.runTick(ctx, time.Now())
			timer.Reset(s.Settings().Interval)
		case now := <-digestTimer:
			s.sendDigest(ctx)
			s.digest.reset(now)
		}
	}
}

// runTick performs one pass over all watches: sweep expired/out-of-window
// dates under the mutex, probe the remainder sequentially outside of it,
// then write results back.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	type notice struct {
		chatID int64
		text   string
	}
	var notices []notice

	s.mu.Lock()
	statusEvery := s.settings.StatusEvery
	snapshot := s.registry.List()
	active := snapshot[:0]
	for _, w := range snapshot {
		switch {
		case watch.Expired(w.Date, now):
			s.registry.Remove(w.Date)
			notices = append(notices, notice{w.ChatID, fmt.Sprintf("📅 Date %s has passed. Removed from monitor.", w.Date)})
		case errors.Is(watch.ValidateWindow(w.Date, now), watch.ErrTooFar):
			// Only the far bound re-applies here. The strictly-future half
			// is a creation rule: a watch whose date is today must still be
			// probed, that is the day of travel.
			s.registry.Remove(w.Date)
			notices = append(notices, notice{w.ChatID, fmt.Sprintf("Date %s is outside the booking window. Removed from monitor.", w.Date)})
		default:
			active = append(active, w)
		}
	}
	total := s.registry.Len()
	s.mu.Unlock()

	for _, n := range notices {
		s.send(ctx, n.chatID, 5, n.text, nil)
	}
	if len(active) == 0 {
		return
	}

	s.log.Debug("tick", logx.Int("watches", len(active)))
	for _, w := range active {
		if ctx.Err() != nil {
			return
		}
		s.probeOne(ctx, w, statusEvery, total)
	}
}

// probeOne runs a single bounded probe and applies the state machine:
// AVAILABLE is edge-triggered (alert only on the transition), SOLD_OUT is
// a silent reset, a probe failure marks the watch ERRORED and leaves it
// for the next tick.
func (s *Scheduler) probeOne(ctx context.Context, w watch.Watch, statusEvery, total int) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	res, err := s.prober.Check(pctx, probe.Request{
		Date:      w.Date,
		Departure: w.Departure,
		Arrival:   w.Arrival,
		Seats:     w.Seats,
	})
	cancel()

	checkCount := w.CheckCount + 1
	status := w.Status
	var slots []string

	switch {
	case err != nil:
		status = watch.StatusErrored
		s.log.Warn("probe failed", logx.String("date", w.Date), logx.Err(err))
	case res.Available:
		slots = res.Slots
		if w.Status != watch.StatusAvailableNotified {
			s.send(ctx, w.ChatID, 8, availableText(w.Date, res.Slots, res.URL, s.source), &kit.SendOptions{ParseMode: "HTML"})
		}
		status = watch.StatusAvailableNotified
	default:
		// AVAILABLE_NOTIFIED -> SOLD_OUT is a silent reset; the next
		// opening triggers a fresh alert.
		status = watch.StatusSoldOut
	}

	if statusEvery > 0 && checkCount%statusEvery == 0 {
		s.send(ctx, w.ChatID, 0, summaryText(w.Date, status, checkCount, total), nil)
	}

	s.mu.Lock()
	applied := s.registry.Update(w.Date, w.CreatedAt, status, checkCount, slots)
	s.mu.Unlock()
	if !applied {
		s.log.Debug("stale probe result discarded", logx.String("date", w.Date))
	}
}

func (s *Scheduler) send(ctx context.Context, chatID int64, priority int, text string, opt *kit.SendOptions) {
	if chatID == 0 {
		chatID = s.defaultChat
	}
	if chatID == 0 || s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, kit.Notification{
		Priority: priority,
		Target:   kit.ChatTarget{ChatID: chatID},
		Text:     text,
		Options:  opt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("notify failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func availableText(date string, slots []string, url, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 <b>AVAILABLE!</b>\n📅 %s\n", date)
	if len(slots) > 0 {
		fmt.Fprintf(&b, "⏰ %s\n", strings.Join(slots, ", "))
	}
	fmt.Fprintf(&b, "🔗 <a href=%q>BOOK NOW</a>", url)
	if source != "" {
		fmt.Fprintf(&b, "\n<i>via %s</i>", source)
	}
	return b.String()
}

func summaryText(date string, status watch.Status, checks, total int) string {
	return fmt.Sprintf("⏱ Still monitoring %s — %d checks so far, last result %s. %d date(s) active.",
		date, checks, statusLabel(status), total)
}

func statusLabel(st watch.Status) string {
	switch st {
	case watch.StatusAvailableNotified:
		return "available"
	case watch.StatusSoldOut:
		return "sold out"
	case watch.StatusErrored:
		return "check failed"
	default:
		return "pending"
	}
}
