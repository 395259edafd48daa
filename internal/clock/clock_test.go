package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketClockUsesMarketZone(t *testing.T) {
	c, err := NewMarketClock("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", c.Now().Location().String())
}

func TestNewMarketClockRejectsUnknownZone(t *testing.T) {
	_, err := NewMarketClock("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestMarketClockSleepIsInterruptible(t *testing.T) {
	c, err := NewMarketClock("UTC")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err = c.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 50, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), 150*time.Second))
	assert.Equal(t, start.Add(150*time.Second), f.Now())
	assert.Equal(t, []time.Duration{150 * time.Second}, f.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, f.Sleep(ctx, time.Minute))
	assert.Equal(t, start.Add(150*time.Second), f.Now())
}
