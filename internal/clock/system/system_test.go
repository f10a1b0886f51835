package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestSteppedAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := &Stepped{Start: start, Step: time.Second}
	require.Equal(t, start, clk.Now())
	require.Equal(t, start.Add(time.Second), clk.Now())
	require.Equal(t, start.Add(2*time.Second), clk.Now())

	frozen := &Stepped{Start: start}
	require.Equal(t, start, frozen.Now())
	require.Equal(t, start, frozen.Now())
}
