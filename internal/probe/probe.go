// Package probe checks the Sagano booking page for seat availability on a
// single date. The browser-driving part lives in sagano.go; everything
// that can be tested without Chrome (URL building, card parsing) is pure.
package probe

import (
	"context"

	"saganobot/internal/watch"
)

// Request describes one availability check.
type Request struct {
	Date      string // YYYY-MM-DD
	Departure watch.Station
	Arrival   watch.Station
	Seats     int
}

// Slot is one train departure extracted from the timetable.
type Slot struct {
	Time      string // "09:02"
	Train     string // "Sagano 1"
	Available bool
}

// Result is the verdict for one probe. A nil error with Available=false
// means SOLD_OUT; any error is a transient probe failure and the caller
// retries on the next tick.
type Result struct {
	Date      string
	Available bool
	Slots     []string // human-readable open slots, e.g. "09:02 (Sagano 1)"
	AllSlots  []Slot
	URL       string // booking link for the alert message
}

// Prober renders the booking page and reports seat availability.
type Prober interface {
	Check(ctx context.Context, req Request) (Result, error)
}
