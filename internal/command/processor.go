// Package command decodes the chat command language (/monitor, /stop,
// /list, /config, /start) into mutations on the monitor scheduler.
// Every validation failure becomes a single human-readable reply; nothing
// a user types can take down the tick loop.
package command

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"saganobot/internal/monitor"
	kit "saganobot/internal/transport"
	"saganobot/internal/watch"
	logx "saganobot/pkg/logx"
)

type Processor struct {
	sched   *monitor.Scheduler
	adapter kit.Adapter
	log     logx.Logger
	owners  []int64
}

// New builds the processor. When owners is non-empty, commands from any
// other user are silently ignored.
func New(sched *monitor.Scheduler, adapter kit.Adapter, log logx.Logger, owners []int64) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{
		sched:   sched,
		adapter: adapter,
		log:     log,
		owners:  append([]int64(nil), owners...),
	}
}

// Commands lists the platform menu entries for this bot.
func (p *Processor) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Start bot & show help"},
		{Command: "monitor", Description: "Monitor a date (YYYY-MM-DD)"},
		{Command: "stop", Description: "Stop monitoring a date (or all)"},
		{Command: "list", Description: "Show monitored dates"},
		{Command: "config", Description: "View or change settings"},
		{Command: "help", Description: "Show help"},
	}
}

// DispatchLoop consumes transport updates until ctx ends.
func (p *Processor) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			p.handle(ctx, up)
		}
	}
}

func (p *Processor) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("command handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	m := up.Message
	if m == nil || !strings.HasPrefix(m.Text, "/") {
		return
	}
	if !p.allowed(m.FromID) {
		p.log.Debug("command from non-owner ignored", logx.Int64("from", m.FromID))
		return
	}

	name, args := splitCommand(m.Text)
	chat := kit.ChatTarget{ChatID: m.ChatID}
	p.log.Debug("command", logx.String("cmd", name), logx.Int64("chat_id", m.ChatID))

	switch name {
	case "start", "help":
		p.replyHTML(ctx, chat, helpText(p.sched.Settings()))
	case "monitor":
		p.handleMonitor(ctx, chat, args)
	case "stop":
		p.handleStop(ctx, chat, args)
	case "list":
		p.reply(ctx, chat, listText(p.sched.Watches()))
	case "config":
		p.handleConfig(ctx, chat, args)
	default:
		p.replyHTML(ctx, chat, "Unknown command.\n\n"+helpText(p.sched.Settings()))
	}
}

func (p *Processor) handleMonitor(ctx context.Context, chat kit.ChatTarget, args []string) {
	if len(args) == 0 {
		p.reply(ctx, chat, "Usage: /monitor YYYY-MM-DD (e.g. /monitor 2025-12-05)")
		return
	}
	w, err := p.sched.AddWatch(args[0], chat.ChatID)
	switch {
	case err == nil:
		p.replyHTML(ctx, chat, fmt.Sprintf("✅ Added <b>%s</b> to the monitor list (%s → %s, %d seat(s)).",
			w.Date, w.Departure, w.Arrival, w.Seats))
	case err == watch.ErrBadDate:
		p.reply(ctx, chat, "❌ Invalid format. Use YYYY-MM-DD.")
	case err == watch.ErrPastDate:
		p.reply(ctx, chat, "❌ That date is not in the future!")
	case err == watch.ErrTooFar:
		latest := time.Now().AddDate(0, 0, watch.MaxLeadDays).Format(watch.DateLayout)
		p.reply(ctx, chat, fmt.Sprintf("⚠️ Too far in the future! Bookings open 1 month in advance; pick a date up to %s.", latest))
	case err == watch.ErrDuplicate:
		p.reply(ctx, chat, fmt.Sprintf("⚠️ %s is already being monitored.", args[0]))
	default:
		p.reply(ctx, chat, "❌ Could not add that date: "+err.Error())
	}
}

func (p *Processor) handleStop(ctx context.Context, chat kit.ChatTarget, args []string) {
	if len(args) == 0 {
		n := p.sched.RemoveAll()
		p.reply(ctx, chat, fmt.Sprintf("🛑 Stopped monitoring ALL dates (%d removed).", n))
		return
	}
	date := args[0]
	if p.sched.RemoveWatch(date) {
		p.reply(ctx, chat, fmt.Sprintf("🛑 Stopped monitoring %s.", date))
	} else {
		p.reply(ctx, chat, fmt.Sprintf("⚠️ You weren't monitoring %s.", date))
	}
}

func (p *Processor) handleConfig(ctx context.Context, chat kit.ChatTarget, args []string) {
	if len(args) == 0 {
		p.replyHTML(ctx, chat, configText(p.sched.Settings()))
		return
	}

	var lines []string
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			lines = append(lines, fmt.Sprintf("❌ %q is not key=value.", arg))
			continue
		}
		lines = append(lines, p.applySetting(strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)))
	}
	p.reply(ctx, chat, strings.Join(lines, "\n"))
}

// applySetting validates and applies one key=value pair, returning the
// per-key result line. Changes affect subsequent ticks and subsequent
// watches only; existing watches keep their stored route and seat count.
func (p *Processor) applySetting(key, value string) string {
	switch key {
	case "seats", "units":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return "❌ Seats must be a positive number."
		}
		if n > watch.MaxSeats {
			return fmt.Sprintf("⚠️ The site sells at most %d seats per booking.", watch.MaxSeats)
		}
		p.sched.Configure(func(s *monitor.Settings) { s.Seats = n })
		return fmt.Sprintf("✅ Seat count set to %d.", n)

	case "dep", "start":
		st, ok := watch.LookupStation(value)
		if !ok {
			return "❌ Station not found. Options: " + strings.Join(watch.StationKeys(), ", ")
		}
		if st == p.sched.Settings().Arrival {
			return fmt.Sprintf("❌ Departure and arrival can't both be %s.", st)
		}
		p.sched.Configure(func(s *monitor.Settings) { s.Departure = st })
		return fmt.Sprintf("✅ Departure set to %s.", st)

	case "arr", "end":
		st, ok := watch.LookupStation(value)
		if !ok {
			return "❌ Station not found. Options: " + strings.Join(watch.StationKeys(), ", ")
		}
		if st == p.sched.Settings().Departure {
			return fmt.Sprintf("❌ Departure and arrival can't both be %s.", st)
		}
		p.sched.Configure(func(s *monitor.Settings) { s.Arrival = st })
		return fmt.Sprintf("✅ Arrival set to %s.", st)

	case "interval":
		secs, err := strconv.Atoi(value)
		if err != nil || secs < 1 {
			return "❌ Interval must be a number of seconds."
		}
		d := time.Duration(secs) * time.Second
		if d < monitor.MinInterval {
			return fmt.Sprintf("⚠️ Interval too low (min %d seconds).", int(monitor.MinInterval/time.Second))
		}
		p.sched.Configure(func(s *monitor.Settings) { s.Interval = d })
		return fmt.Sprintf("✅ Interval set to %d seconds.", secs)

	case "status", "status_every":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "❌ status_every must be a non-negative number of ticks (0 disables)."
		}
		p.sched.Configure(func(s *monitor.Settings) { s.StatusEvery = n })
		if n == 0 {
			return "✅ Status summaries disabled."
		}
		return fmt.Sprintf("✅ Status summary every %d checks.", n)

	default:
		return fmt.Sprintf("❌ Unknown setting %q. Known: seats, dep, arr, interval, status_every.", key)
	}
}

func (p *Processor) allowed(from int64) bool {
	if len(p.owners) == 0 {
		return true
	}
	for _, id := range p.owners {
		if id == from {
			return true
		}
	}
	return false
}

func (p *Processor) reply(ctx context.Context, chat kit.ChatTarget, text string) {
	p.sendReply(ctx, chat, text, &kit.SendOptions{DisablePreview: true})
}

func (p *Processor) replyHTML(ctx context.Context, chat kit.ChatTarget, text string) {
	p.sendReply(ctx, chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func (p *Processor) sendReply(ctx context.Context, chat kit.ChatTarget, text string, opt *kit.SendOptions) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := p.adapter.SendText(sctx, chat, text, opt); err != nil {
		p.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}

// splitCommand parses "/config@SaganoBot seats=2" into ("config",
// ["seats=2"]).
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}
