package command

import (
	"fmt"
	"strings"
	"time"

	"saganobot/internal/monitor"
	"saganobot/internal/watch"
)

func helpText(s monitor.Settings) string {
	var b strings.Builder
	b.WriteString("🚂 <b>Sagano Scenic Railway Monitor</b>\n\n")
	b.WriteString("I watch the booking page and alert you the moment a seat opens up.\n\n")
	b.WriteString("<b>Commands:</b>\n")
	b.WriteString("• /monitor <code>YYYY-MM-DD</code> — watch a date\n")
	b.WriteString("• /stop <code>[YYYY-MM-DD]</code> — stop one date, or all\n")
	b.WriteString("• /list — show watched dates\n")
	b.WriteString("• /config — show settings\n")
	b.WriteString("• <code>/config seats=2 dep=saga arr=kameoka interval=60</code> — change settings\n")
	b.WriteString("• /help — this message\n\n")
	fmt.Fprintf(&b, "<b>Current defaults:</b> %d seat(s), %s → %s, check every %s.",
		s.Seats, s.Departure, s.Arrival, formatInterval(s.Interval))
	return b.String()
}

func configText(s monitor.Settings) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Current configuration</b>\n\n")
	fmt.Fprintf(&b, "Route: %s → %s\n", s.Departure, s.Arrival)
	fmt.Fprintf(&b, "Seats: %d\n", s.Seats)
	fmt.Fprintf(&b, "Interval: %s\n", formatInterval(s.Interval))
	if s.StatusEvery > 0 {
		fmt.Fprintf(&b, "Status summary: every %d checks\n", s.StatusEvery)
	} else {
		b.WriteString("Status summary: off\n")
	}
	b.WriteString("\n<b>Stations:</b> " + strings.Join(watch.StationKeys(), ", "))
	b.WriteString("\n\nChange with <code>/config key=value [key=value ...]</code> — keys: seats, dep, arr, interval (seconds), status_every (ticks).")
	return b.String()
}

func listText(watches []watch.Watch) string {
	if len(watches) == 0 {
		return "You are not monitoring any dates. Add one with /monitor YYYY-MM-DD."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Monitored dates (%d):\n", len(watches))
	for _, w := range watches {
		fmt.Fprintf(&b, "• %s — %s, %d checks", w.Date, strings.ToUpper(string(w.Status)), w.CheckCount)
		if len(w.LastSlots) > 0 {
			fmt.Fprintf(&b, ", open: %s", strings.Join(w.LastSlots, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInterval(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
