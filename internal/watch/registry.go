package watch

import (
	"sort"
	"time"
)

// Defaults are the settings merged into a new watch when the /monitor
// command carries no overrides.
type Defaults struct {
	Departure Station
	Arrival   Station
	Seats     int
}

// Overrides are optional per-watch values supplied at creation time.
// Zero values mean "use the default".
type Overrides struct {
	Departure Station
	Arrival   Station
	Seats     int
	ChatID    int64
}

// Registry maps date -> Watch. It is intentionally NOT safe for
// concurrent use: the scheduler owns the mutex and serializes command
// handling against the tick's read-modify-write sequence.
type Registry struct {
	watches map[string]*Watch
}

func NewRegistry() *Registry {
	return &Registry{watches: map[string]*Watch{}}
}

// Add validates the date window and inserts a new PENDING watch built
// from defaults merged with overrides.
func (r *Registry) Add(date string, now time.Time, def Defaults, ov Overrides) (Watch, error) {
	if err := ValidateWindow(date, now); err != nil {
		return Watch{}, err
	}
	if _, ok := r.watches[date]; ok {
		return Watch{}, ErrDuplicate
	}

	w := &Watch{
		Date:      date,
		Departure: def.Departure,
		Arrival:   def.Arrival,
		Seats:     def.Seats,
		Status:    StatusPending,
		ChatID:    ov.ChatID,
		CreatedAt: now,
	}
	if ov.Departure != "" {
		w.Departure = ov.Departure
	}
	if ov.Arrival != "" {
		w.Arrival = ov.Arrival
	}
	if ov.Seats > 0 {
		w.Seats = ov.Seats
	}
	r.watches[date] = w
	return *w, nil
}

// Remove deletes the watch if present.
func (r *Registry) Remove(date string) bool {
	if _, ok := r.watches[date]; !ok {
		return false
	}
	delete(r.watches, date)
	return true
}

// RemoveAll clears the registry and returns how many watches were dropped.
func (r *Registry) RemoveAll() int {
	n := len(r.watches)
	r.watches = map[string]*Watch{}
	return n
}

// Get returns a copy of the watch for the date.
func (r *Registry) Get(date string) (Watch, bool) {
	w, ok := r.watches[date]
	if !ok {
		return Watch{}, false
	}
	return *w, true
}

// List returns copies of all watches ordered by date ascending.
func (r *Registry) List() []Watch {
	out := make([]Watch, 0, len(r.watches))
	for _, w := range r.watches {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (r *Registry) Len() int { return len(r.watches) }

// Update applies a probe outcome. It is a no-op when the watch is gone or
// was replaced mid-tick (createdAt mismatch): a date removed and re-added
// while its probe was in flight must not inherit the stale result.
func (r *Registry) Update(date string, createdAt time.Time, status Status, checkCount int, slots []string) bool {
	w, ok := r.watches[date]
	if !ok || !w.CreatedAt.Equal(createdAt) {
		return false
	}
	w.Status = status
	w.CheckCount = checkCount
	if slots != nil {
		w.LastSlots = append([]string(nil), slots...)
	}
	return true
}
