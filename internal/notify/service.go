// Package notify implements the outbound message pipeline:
// bounded queue + worker + token-bucket rate limit + dedup window + retry.
//
// Delivery failures are logged and absorbed; a broken Telegram connection
// must never stall the monitoring tick loop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"saganobot/internal/runtime/supervisor"
	kit "saganobot/internal/transport"
	logx "saganobot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

type Config struct {
	QueueSize     int           // default 256
	RatePerSec    int           // token bucket rate and burst, default 3
	RetryMax      int           // extra attempts after the first, default 2
	RetryBase     time.Duration // default 500ms, doubled per attempt
	RetryMaxDelay time.Duration // default 10s
	DedupWindow   time.Duration // suppress identical messages within, 0 disables
	SendTimeout   time.Duration // per delivery attempt, default 10s
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

type job struct {
	n        kit.Notification
	dedupKey string
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger

	queue     chan job
	accepting bool

	dmu   sync.Mutex
	dedup map[string]time.Time // key -> suppress until
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		adapter: adapter,
		log:     log,
		dedup:   map[string]time.Time{},
	}
}

// Apply updates the runtime knobs (rate, dedup window, retry policy).
// Queue size changes require a restart and are ignored here.
func (s *Service) Apply(cfg Config) {
	cfg.applyDefaults()
	s.mu.Lock()
	cfg.QueueSize = s.cfg.QueueSize
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Start launches the delivery worker under the supervisor. Idempotent.
func (s *Service) Start(sup *supervisor.Supervisor) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	q := s.queue
	s.mu.Unlock()

	sup.GoRestart("notify.worker", func(ctx context.Context) error {
		s.workerLoop(ctx, q)
		return ctx.Err()
	})
}

// Stop blocks intake; queued messages are abandoned when the supervisor
// context ends.
func (s *Service) Stop() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
}

// Notify enqueues a notification. Duplicate messages inside the dedup
// window are silently dropped; a full queue is reported to the caller.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if q == nil || !accepting {
		return ErrStopped
	}

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window) {
		s.log.Debug("notification deduped", logx.Int64("chat_id", n.Target.ChatID))
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.log.Warn("notification dropped", logx.Int64("chat_id", n.Target.ChatID), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := prefixForPriority(j.n.Priority) + j.n.Text
	attempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.log.Debug("notification sent", logx.Int64("chat_id", j.n.Target.ChatID), logx.Int("priority", j.n.Priority))
			return
		}
		lastErr = err
		if attempt >= attempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.log.Warn("notification delivery failed",
		logx.Int64("chat_id", j.n.Target.ChatID),
		logx.Int("attempts", attempts),
		logx.Err(lastErr))
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

// dedupAllow reports whether the key may be sent now, recording the
// suppression window when it may. Expired entries are swept lazily.
func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func dedupKey(n kit.Notification) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s", n.Target.ChatID, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

func prefixForPriority(p int) string {
	switch {
	case p >= 8:
		return "🚨 "
	case p >= 5:
		return "⚠️ "
	default:
		return ""
	}
}
