// Package session classifies a market-time instant into the trading-day
// windows that gate the strategy rule sets.
package session

import (
	"strings"
	"time"
)

// Session offsets from market midnight (US regular session).
const (
	OpenOffset          = 9*time.Hour + 30*time.Minute
	OpeningWindowLength = 10 * time.Minute
	ClosingWindowLength = 10 * time.Minute
	CloseOffset         = 16 * time.Hour
	FinalSliceLead      = 1 * time.Minute // last TWAP slice marker before the close
	ShutdownHintDelay   = 5 * time.Minute // after the close, the process may be stopped
)

// Boundaries are the typed session instants for one calendar day.
type Boundaries struct {
	Open         time.Time
	OpeningEnd   time.Time
	MonitorEnd   time.Time // also the start of the closing-decision window
	Close        time.Time
	FinalCutoff  time.Time
	ShutdownHint time.Time
}

// BoundariesFor computes the boundaries of t's calendar day in t's location.
func BoundariesFor(t time.Time) Boundaries {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	at := func(d time.Duration) time.Time {
		// Date arithmetic keeps wall-clock offsets correct on DST change days.
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, 0, 0, t.Location())
	}
	b := Boundaries{
		Open:  at(OpenOffset),
		Close: at(CloseOffset),
	}
	b.OpeningEnd = b.Open.Add(OpeningWindowLength)
	b.MonitorEnd = b.Close.Add(-ClosingWindowLength)
	b.FinalCutoff = b.Close.Add(-FinalSliceLead)
	b.ShutdownHint = b.Close.Add(ShutdownHintDelay)
	return b
}

// Status is the classification of one tick. Windows are not mutually
// exclusive: the opening window lies inside regular monitoring.
type Status struct {
	Now        time.Time
	Bounds     Boundaries
	Weekend    bool
	PreMarket  bool
	Opening    bool
	Monitoring bool
	Closing    bool
	PostClose  bool
}

// Classify evaluates every window predicate for t. t must already be in the
// market timezone.
func Classify(t time.Time) Status {
	s := Status{Now: t, Bounds: BoundariesFor(t)}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		s.Weekend = true
		return s
	}
	b := s.Bounds
	s.PreMarket = t.Before(b.Open)
	s.Opening = within(t, b.Open, b.OpeningEnd)
	s.Monitoring = within(t, b.Open, b.MonitorEnd)
	s.Closing = within(t, b.MonitorEnd, b.Close)
	s.PostClose = !t.Before(b.Close)
	return s
}

// Open reports whether the regular session is running.
func (s Status) Open() bool {
	return !s.Weekend && !s.PreMarket && !s.PostClose
}

// PastFinalCutoff reports whether t is at or after the last-slice marker of
// the same day.
func (s Status) PastFinalCutoff(t time.Time) bool {
	return !t.Before(s.Bounds.FinalCutoff)
}

// String lists the active windows, for logs.
func (s Status) String() string {
	var parts []string
	if s.Weekend {
		parts = append(parts, "weekend")
	}
	if s.PreMarket {
		parts = append(parts, "pre-market")
	}
	if s.Opening {
		parts = append(parts, "opening")
	}
	if s.Monitoring {
		parts = append(parts, "monitoring")
	}
	if s.Closing {
		parts = append(parts, "closing")
	}
	if s.PostClose {
		parts = append(parts, "post-close")
	}
	return strings.Join(parts, "+")
}

// within reports start <= t < end.
func within(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
