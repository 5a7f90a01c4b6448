package types

import "time"

// AccessRule is the authoritative policy shape, as the authority defines
// it. The core only reads these: a nil TimeWindow means "any time of
// day", a nil DateWindow means "always valid". A rule belongs to exactly
// one control point.
type AccessRule struct {
	ControlPointID int64
	RoleIDs        []int64
	TimeWindow     *TimeWindow
	DateWindow     *DateWindow
}

// TimeWindow is a wall-clock window in minutes since midnight, inclusive
// at both ends. End < Start denotes a window crossing midnight.
type TimeWindow struct {
	Start int
	End   int
}

// Contains reports whether the minute-of-day m falls inside the window.
func (w TimeWindow) Contains(m int) bool {
	if w.End < w.Start {
		// Crosses midnight: active late evening OR early morning.
		return m >= w.Start || m <= w.End
	}
	return m >= w.Start && m <= w.End
}

// DateWindow is an inclusive calendar range. Only the date portion of
// Start/End is significant.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t's calendar date falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	d := civilDate(t)
	return !d.Before(civilDate(w.Start)) && !d.After(civilDate(w.End))
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MinuteOfDay returns t's wall-clock position as minutes since midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// CachedRule is the offline projection of an AccessRule for one holder
// at one control point. The cache is bulk-replaced on every successful
// sync; entries are never diffed or updated in place.
type CachedRule struct {
	HolderID       int64
	ControlPointID int64
	AllowedDays    DaySet
	Start          int // minutes since midnight
	End            int
	LastSyncedAt   time.Time
}

// Window returns the rule's time window.
func (r CachedRule) Window() TimeWindow {
	return TimeWindow{Start: r.Start, End: r.End}
}

// DaySet is a set of weekdays, 0=Sunday through 6=Saturday, matching
// time.Weekday numbering.
type DaySet map[int]struct{}

// NewDaySet builds a DaySet from weekday numbers.
func NewDaySet(days ...int) DaySet {
	s := make(DaySet, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

// Contains reports whether the weekday is in the set.
func (s DaySet) Contains(d time.Weekday) bool {
	_, ok := s[int(d)]
	return ok
}

// Days returns the set's members in ascending order.
func (s DaySet) Days() []int {
	out := make([]int, 0, len(s))
	for d := 0; d <= 6; d++ {
		if _, ok := s[d]; ok {
			out = append(out, d)
		}
	}
	return out
}
