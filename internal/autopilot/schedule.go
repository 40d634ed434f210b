package autopilot

import (
	"fmt"
	"time"

	"github.com/leadpilot/pkg/models"
)

// Window is the tenant's sending window in its own timezone
type Window struct {
	Start    time.Duration // offset from local midnight
	End      time.Duration
	Weekends bool
	Loc      *time.Location
}

const (
	defaultWindowStart = 8 * time.Hour
	defaultWindowEnd   = 20 * time.Hour
)

// WindowFor derives the sending window from settings. Unparseable bounds fall back
// to 08:00-20:00.
func WindowFor(s models.AutopilotSettings) Window {
	w := Window{Start: defaultWindowStart, End: defaultWindowEnd, Weekends: s.SendOnWeekends, Loc: s.Location()}
	start, errS := parseClock(s.WorkingHoursStart)
	end, errE := parseClock(s.WorkingHoursEnd)
	if errS == nil && errE == nil && start < end {
		w.Start, w.End = start, end
	}
	return w
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func clockOffset(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

// Open reports whether t falls inside the window. Weekend days only count when
// the tenant sends on weekends.
func (w Window) Open(t time.Time) bool {
	local := t.In(w.Loc)
	if isWeekend(local) && !w.Weekends {
		return false
	}
	return clockOffset(local) >= w.Start && clockOffset(local) < w.End
}

// Next returns the earliest instant at or after t inside the window
func (w Window) Next(t time.Time) time.Time {
	if w.Open(t) {
		return t
	}
	local := t.In(w.Loc)
	day := midnight(local)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if isWeekend(d) && !w.Weekends {
			continue
		}
		// built from the wall clock so DST days keep the configured local time
		h, m := int(w.Start/time.Hour), int(w.Start%time.Hour/time.Minute)
		start := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, w.Loc)
		if start.After(local) {
			return start
		}
	}
	return t
}

// LocalAt returns the instant at hh:mm local time on the tenant's day containing t
func LocalAt(t time.Time, loc *time.Location, hh, mm int) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
}
