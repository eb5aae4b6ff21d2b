package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var ErrCalendarUnavailable = errors.New("calendar: provider unavailable")

// GoogleProvider reads busy blocks through the Calendar v3 free/busy endpoint.
type GoogleProvider struct {
	svc *gcal.Service
}

func NewGoogleProvider(ctx context.Context, opts ...option.ClientOption) (*GoogleProvider, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	return &GoogleProvider{svc: svc}, nil
}

func (p *GoogleProvider) ListBusyIntervals(ctx context.Context, calendarID string, from, to time.Time) ([]Interval, error) {
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		return nil, nil
	}
	resp, err := p.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: free/busy query: %v", ErrCalendarUnavailable, err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCalendarUnavailable, cal.Errors[0].Reason)
	}

	out := make([]Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end %q: %w", period.End, err)
		}
		if !end.After(start) {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}
