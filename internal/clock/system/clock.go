// Package system provides clock implementations for run timestamps.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Stepped is a deterministic clock that advances by Step on every call.
// A zero Step always returns Start.
type Stepped struct {
	Start time.Time
	Step  time.Duration
	calls int
}

// Now returns Start plus Step for each previous call.
func (s *Stepped) Now() time.Time {
	t := s.Start.Add(time.Duration(s.calls) * s.Step)
	s.calls++
	return t
}
