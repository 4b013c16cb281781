// Package screening holds the scheduling rules for screenings in a hall.
package screening

import (
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// Interval is the half-open span [Start, End) during which a screening
// occupies its hall, cleaning buffer included.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds the occupancy interval of a screening of a movie
// running durationMinutes.
func NewInterval(start time.Time, durationMinutes int) Interval {
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes)*time.Minute + model.CleaningBuffer),
	}
}

// IntervalOf returns the stored occupancy interval of a screening.
func IntervalOf(s model.Screening) Interval { return Interval{Start: s.StartTime, End: s.EndTime} }

// Overlaps reports whether candidate collides with existing: either the
// candidate starts inside existing, or it starts earlier and runs into
// existing's start.  Intervals that merely touch do not overlap.
func Overlaps(existing, candidate Interval) bool {
	startsInside := !candidate.Start.Before(existing.Start) && candidate.Start.Before(existing.End)
	runsInto := candidate.Start.Before(existing.Start) && candidate.End.After(existing.Start)
	return startsInside || runsInto
}

// Conflicts returns the screenings whose interval overlaps candidate.
func Conflicts(existing []model.Screening, candidate Interval) []model.Screening {
	var out []model.Screening
	for _, s := range existing {
		if Overlaps(IntervalOf(s), candidate) {
			out = append(out, s)
		}
	}
	return out
}

// FindConflicts returns the indexes of the intervals in existing that
// overlap candidate.
func FindConflicts(existing []Interval, candidate Interval) []int {
	var idx []int
	for i, iv := range existing {
		if Overlaps(iv, candidate) {
			idx = append(idx, i)
		}
	}
	return idx
}
