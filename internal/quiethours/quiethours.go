// Package quiethours decides whether an instant falls inside a user's local
// do-not-disturb window.
package quiethours

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/herald/internal/model"
)

// Evaluator converts instants into the window's timezone. Windows without a
// usable timezone are evaluated in the fallback location.
type Evaluator struct {
	fallback *time.Location
}

// New returns an Evaluator. A nil fallback means UTC.
func New(fallback *time.Location) *Evaluator {
	if fallback == nil {
		fallback = time.UTC
	}
	return &Evaluator{fallback: fallback}
}

// IsQuiet reports whether now falls inside window. The window is half-open:
// start is quiet, end is not. Start after end wraps midnight; start equal to
// end is an empty window. A nil or malformed window is never quiet.
func (e *Evaluator) IsQuiet(window *model.QuietHours, now time.Time) bool {
	if window == nil {
		return false
	}
	start, err := Parse(window.Start)
	if err != nil {
		return false
	}
	end, err := Parse(window.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	local := now.In(e.Location(window.Timezone))
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// Location resolves an IANA name, falling back when it is empty or unknown.
func (e *Evaluator) Location(name string) *time.Location {
	if name == "" {
		return e.fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return e.fallback
	}
	return loc
}

// Parse converts "HH:MM" into minutes after midnight.
func Parse(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil || len(clock) != 5 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", clock)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks a window's clock strings and timezone.
func Validate(window model.QuietHours) error {
	if _, err := Parse(window.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := Parse(window.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if window.Timezone != "" {
		if _, err := time.LoadLocation(window.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", window.Timezone)
		}
	}
	return nil
}
