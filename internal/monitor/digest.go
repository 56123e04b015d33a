package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// digestSchedule wraps an optional cron spec for the periodic watch
// digest (e.g. "0 8 * * *" for a morning summary). Disabled when empty.
type digestSchedule struct {
	sched cron.Schedule
	t     *time.Timer
}

func parseDigestSpec(spec string) (digestSchedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return digestSchedule{}, nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return digestSchedule{}, fmt.Errorf("monitor.digest: invalid cron spec %q: %w", spec, err)
	}
	return digestSchedule{sched: sched}, nil
}

func (d *digestSchedule) enabled() bool { return d.sched != nil }

// timer returns the fire channel for the next digest, or a nil channel
// (blocks forever) when the digest is disabled.
func (d *digestSchedule) timer(now time.Time) (<-chan time.Time, func()) {
	if d.sched == nil {
		return nil, func() {}
	}
	d.t = time.NewTimer(d.sched.Next(now).Sub(now))
	return d.t.C, func() { d.t.Stop() }
}

func (d *digestSchedule) reset(now time.Time) {
	if d.t == nil || d.sched == nil {
		return
	}
	d.t.Reset(d.sched.Next(now).Sub(now))
}

// sendDigest posts one non-alerting summary of every active watch to the
// default chat.
func (s *Scheduler) sendDigest(ctx context.Context) {
	watches := s.Watches()
	if len(watches) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚂 Watch digest — %d date(s) monitored:\n", len(watches))
	for _, w := range watches {
		fmt.Fprintf(&b, "• %s: %s, %d checks\n", w.Date, statusLabel(w.Status), w.CheckCount)
	}
	s.send(ctx, s.defaultChat, 0, strings.TrimRight(b.String(), "\n"), nil)
}
