// Package clock supplies market-timezone time to the engine. Nothing in the
// bot reads host time directly.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "time/tzdata" // market zone must resolve on hosts without zoneinfo
)

// Clock is the authoritative source of "now" in the market timezone.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// MarketClock reports wall time converted to the market location.
type MarketClock struct {
	loc *time.Location
}

// NewMarketClock loads the named IANA zone, e.g. "America/New_York".
func NewMarketClock(zone string) (*MarketClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", zone, err)
	}
	return &MarketClock{loc: loc}, nil
}

// Now returns the current instant in market time.
func (c *MarketClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the market zone.
func (c *MarketClock) Location() *time.Location {
	return c.loc
}

// Sleep waits for d, returning ctx.Err() if cancelled first.
func (c *MarketClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a manually driven clock for tests. Sleep advances time instantly.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFake starts a fake clock at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return nil
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep so far.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
