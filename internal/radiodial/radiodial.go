// Package radiodial holds the ordered radio-station catalog and cursor
// described in spec §4.8: a name list, a selection cursor, and a
// schedule anchor for the next catalog refresh.
package radiodial

import (
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Dial is a mutex-guarded ordered station catalog with a cursor.
// cursor == -1 means "no station selected".
type Dial struct {
	mu       sync.Mutex
	stations []string
	cursor   int
}

// New returns an empty dial with no selection.
func New() *Dial {
	return &Dial{cursor: -1}
}

// SetCatalog replaces the station list, deduplicating names a catalog
// refresh may have repeated. If the current cursor would fall outside
// the new list, it resets to -1 (spec §4.8).
func (d *Dial) SetCatalog(stations []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stations = lo.Uniq(stations)
	if d.cursor >= len(d.stations) {
		d.cursor = -1
	}
}

// Stations returns a copy of the current catalog.
func (d *Dial) Stations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stations...)
}

// Cursor returns the current cursor value.
func (d *Dial) Cursor() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// SetCursor forces the cursor to an explicit value (used by FSM restore
// and explicit station selection by index).
func (d *Dial) SetCursor(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < -1 || idx >= len(d.stations) {
		idx = -1
	}
	d.cursor = idx
}

// Next advances the cursor modulo the catalog length. From -1 it lands
// on 0. An empty catalog always yields -1 (spec §4.8, §8 boundary case).
func (d *Dial) Next() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stations) == 0 {
		d.cursor = -1
		return d.cursor
	}
	if d.cursor < 0 {
		d.cursor = 0
		return d.cursor
	}
	d.cursor = (d.cursor + 1) % len(d.stations)
	return d.cursor
}

// Prev retreats the cursor modulo the catalog length. From -1 it lands
// on 0, matching Next's boundary behavior (spec §8).
func (d *Dial) Prev() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stations) == 0 {
		d.cursor = -1
		return d.cursor
	}
	if d.cursor < 0 {
		d.cursor = 0
		return d.cursor
	}
	d.cursor = (d.cursor - 1 + len(d.stations)) % len(d.stations)
	return d.cursor
}

// Current returns the name at the cursor, or "" if unselected.
func (d *Dial) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor < 0 || d.cursor >= len(d.stations) {
		return ""
	}
	return d.stations[d.cursor]
}

// FindByName resolves name to a cursor position: case-insensitive exact
// match first, then case-insensitive substring match. Returns -1 if
// nothing matches; does not mutate the cursor.
func (d *Dial) FindByName(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	needle := strings.ToLower(name)
	for i, s := range d.stations {
		if strings.ToLower(s) == needle {
			return i
		}
	}
	for i, s := range d.stations {
		if strings.Contains(strings.ToLower(s), needle) {
			return i
		}
	}
	return -1
}

// Next3AMLocal returns the duration until 03:00 local-time in the named
// IANA timezone on the day after now — it always refers to tomorrow's
// 03:00, never today's, even when now is before 03:00 today (spec
// §4.8, §8: the result is always ≥ the seconds remaining in today).
func Next3AMLocal(tz string, now time.Time) (time.Duration, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, err
	}
	local := now.In(loc)
	tomorrow := local.AddDate(0, 0, 1)
	next := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 3, 0, 0, 0, loc)
	return next.Sub(local), nil
}
