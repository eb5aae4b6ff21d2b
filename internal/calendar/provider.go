// Package calendar adapts external calendars that report when a doctor is busy
// outside of the appointments tracked here.
package calendar

import (
	"context"
	"time"
)

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects the interval.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && i.Start.Before(end)
}

// Provider lists busy intervals for an external calendar id.
type Provider interface {
	ListBusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error)
}

// NoopProvider reports no external busy time.
type NoopProvider struct{}

func (NoopProvider) ListBusyIntervals(context.Context, string, time.Time, time.Time) ([]Interval, error) {
	return nil, nil
}
