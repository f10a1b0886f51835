package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/iati-climate-dataset/internal/progress"
)

// ConsoleSink renders a terminal progress bar for pagination. The bar's maximum
// comes from the first page's match count and it never advances past it.
type ConsoleSink struct {
	out io.Writer

	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	max   int64
	value int64
}

// NewConsoleSink writes the bar to out, defaulting to stderr.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleSink{out: out}
}

// Consume advances the bar for every PAGE_DONE event.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageDone:
			if err := s.advance(evt); err != nil {
				return err
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.finish(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ConsoleSink) advance(evt progress.Event) error {
	if s.bar == nil {
		if evt.Total <= 0 {
			return nil
		}
		s.max = evt.Total
		s.value = 0
		s.bar = progressbar.NewOptions64(s.max,
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionSetDescription("Fetching "+evt.PublisherRef),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(0),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(s.out) }),
		)
	}
	if s.value+evt.Records > s.max {
		return nil
	}
	s.value += evt.Records
	if err := s.bar.Add64(evt.Records); err != nil {
		return fmt.Errorf("advance progress bar: %w", err)
	}
	return nil
}

func (s *ConsoleSink) finish() error {
	if s.bar == nil {
		return nil
	}
	bar := s.bar
	s.bar = nil
	if s.value >= s.max {
		return nil
	}
	if err := bar.Exit(); err != nil {
		return fmt.Errorf("close progress bar: %w", err)
	}
	return nil
}

// Value reports how many records the bar currently shows.
func (s *ConsoleSink) Value() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Close releases any bar still on screen.
func (s *ConsoleSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finish()
}
