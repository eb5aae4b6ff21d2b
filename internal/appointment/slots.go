package appointment

import (
	"iter"
	"slices"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type Slot struct {
	Start time.Time
	End   time.Time
}

// SlotSet is a snapshot of bookable slots ordered by start. It is only valid
// until the next successful booking for the doctor.
type SlotSet struct {
	slots []Slot
}

// NewSlotSet orders the given slots by start.
func NewSlotSet(slots ...Slot) *SlotSet {
	sorted := slices.Clone(slots)
	slices.SortFunc(sorted, func(a, b Slot) int { return a.Start.Compare(b.Start) })
	return &SlotSet{slots: sorted}
}

// All yields the slots in order. The sequence can be ranged over repeatedly.
func (s *SlotSet) All() iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if s == nil {
			return
		}
		for _, slot := range s.slots {
			if !yield(slot) {
				return
			}
		}
	}
}

func (s *SlotSet) Starts() []time.Time {
	if s == nil {
		return nil
	}
	out := make([]time.Time, 0, len(s.slots))
	for slot := range s.All() {
		out = append(out, slot.Start)
	}
	return out
}

func (s *SlotSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

func (s *SlotSet) Contains(start time.Time) bool {
	if s == nil {
		return false
	}
	_, found := slices.BinarySearchFunc(s.slots, start, func(slot Slot, t time.Time) int {
		return slot.Start.Compare(t)
	})
	return found
}

const dayLayout = "2006-01-02"

// buildGrid lays fixed-length slots over the working windows of every local
// date touched by [from, to). Slot starts outside [from, to) are dropped, as
// is the remainder of a window shorter than one slot.
func buildGrid(sched Schedule, loc *time.Location, from, to time.Time, length time.Duration) []Slot {
	if length <= 0 || !to.After(from) {
		return nil
	}

	exceptions := make(map[string][]ScheduleException)
	for _, e := range sched.Exceptions {
		key := e.Day.Format(dayLayout)
		exceptions[key] = append(exceptions[key], e)
	}

	var grid []Slot
	first := from.In(loc)
	last := to.Add(-time.Nanosecond).In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)

	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, w := range windowsFor(day, sched.Weekly, exceptions[day.Format(dayLayout)]) {
			ws := time.Date(day.Year(), day.Month(), day.Day(), 0, w.StartMinute, 0, 0, loc)
			we := time.Date(day.Year(), day.Month(), day.Day(), 0, w.EndMinute, 0, 0, loc)
			for t := ws; !t.Add(length).After(we); t = t.Add(length) {
				if t.Before(from) || !t.Before(to) {
					continue
				}
				grid = append(grid, Slot{Start: t, End: t.Add(length)})
			}
		}
	}

	slices.SortFunc(grid, func(a, b Slot) int { return a.Start.Compare(b.Start) })
	return slices.CompactFunc(grid, func(a, b Slot) bool { return a.Start.Equal(b.Start) })
}

// windowsFor returns the exception windows for the date when there are any,
// otherwise the weekly windows of its weekday.
func windowsFor(day time.Time, weekly []WorkingWindow, exceptions []ScheduleException) []WorkingWindow {
	if len(exceptions) > 0 {
		var out []WorkingWindow
		for _, e := range exceptions {
			if e.Closed {
				return nil
			}
			if e.EndMinute > e.StartMinute {
				out = append(out, WorkingWindow{Weekday: day.Weekday(), StartMinute: e.StartMinute, EndMinute: e.EndMinute})
			}
		}
		return out
	}
	var out []WorkingWindow
	for _, w := range weekly {
		if w.Weekday == day.Weekday() && w.EndMinute > w.StartMinute {
			out = append(out, w)
		}
	}
	return out
}

// subtractBusy drops every slot that overlaps any part of a busy interval,
// and slots starting before notBefore when it is set.
func subtractBusy(grid []Slot, busy []calendar.Interval, notBefore time.Time) []Slot {
	out := make([]Slot, 0, len(grid))
	for _, slot := range grid {
		if !notBefore.IsZero() && slot.Start.Before(notBefore) {
			continue
		}
		if slices.ContainsFunc(busy, func(b calendar.Interval) bool {
			return b.Overlaps(slot.Start, slot.End)
		}) {
			continue
		}
		out = append(out, slot)
	}
	return out
}
