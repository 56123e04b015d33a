// Package watch holds the monitored-date model: stations, per-watch state
// and the registry keyed by calendar date.
package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for watch dates (ISO calendar date).
const DateLayout = "2006-01-02"

// MaxSeats is the booking site's per-purchase unit limit.
const MaxSeats = 4

// MaxLeadDays bounds how far ahead a date may be watched. Sagano opens
// bookings one month in advance; anything beyond that cannot sell out.
const MaxLeadDays = 30

// Station is one of the four Torokko stops on the Sagano line.
type Station string

const (
	StationSaga       Station = "Torokko Saga"
	StationArashiyama Station = "Torokko Arashiyama"
	StationHozukyo    Station = "Torokko Hozukyo"
	StationKameoka    Station = "Torokko Kameoka"
)

// Stations lists all stops in line order, keyed by the short name users
// type in /config (dep=saga, arr=kameoka, ...).
var Stations = []struct {
	Key     string
	Station Station
}{
	{"saga", StationSaga},
	{"arashiyama", StationArashiyama},
	{"hozukyo", StationHozukyo},
	{"kameoka", StationKameoka},
}

// LookupStation resolves a user-supplied station query by short key or
// case-insensitive substring of the full name.
func LookupStation(query string) (Station, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}
	for _, s := range Stations {
		if strings.Contains(s.Key, q) || strings.Contains(strings.ToLower(string(s.Station)), q) {
			return s.Station, true
		}
	}
	return "", false
}

// StationKeys returns the short keys, for help/error messages.
func StationKeys() []string {
	keys := make([]string, len(Stations))
	for i, s := range Stations {
		keys[i] = s.Key
	}
	return keys
}

// Status is the last known probe outcome for a watch.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusAvailableNotified Status = "AVAILABLE_NOTIFIED"
	StatusSoldOut           Status = "SOLD_OUT"
	StatusErrored           Status = "ERRORED"
)

// Validation errors reported back to the user; they never change state.
var (
	ErrBadDate   = errors.New("invalid date, use YYYY-MM-DD")
	ErrPastDate  = errors.New("date is not in the future")
	ErrTooFar    = fmt.Errorf("date is more than %d days ahead", MaxLeadDays)
	ErrDuplicate = errors.New("date is already monitored")
)

// Watch is one date under active monitoring.
type Watch struct {
	Date      string // YYYY-MM-DD, registry key
	Departure Station
	Arrival   Station
	Seats     int

	Status     Status
	CheckCount int
	LastSlots  []string // departure slots from the latest AVAILABLE probe

	ChatID    int64 // chat that created the watch
	CreatedAt time.Time
}

// ParseDate validates the wire format and returns the calendar date.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return d, nil
}

// ValidateWindow checks the monitoring window for a date at the given
// moment: strictly after today, at most MaxLeadDays ahead. It is applied
// at creation and re-applied before every probe, since "now" advances.
func ValidateWindow(date string, now time.Time) error {
	d, err := ParseDate(date)
	if err != nil {
		return err
	}
	today := midnight(now)
	if !d.After(today) {
		return ErrPastDate
	}
	if d.After(today.AddDate(0, 0, MaxLeadDays)) {
		return ErrTooFar
	}
	return nil
}

// Expired reports whether the watched date lies before today. The day
// itself still counts as monitorable.
func Expired(date string, now time.Time) bool {
	d, err := ParseDate(date)
	if err != nil {
		return true
	}
	return d.Before(midnight(now))
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
