package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/iati-climate-dataset/internal/progress"
)

// PrometheusSink exports pagination progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	pagesFetched   *prometheus.CounterVec
	recordsFetched *prometheus.CounterVec
	numFound       *prometheus.GaugeVec
	pageDuration   prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "climatedata_runs_started_total",
			Help: "Total dataset builds that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatedata_runs_completed_total",
			Help: "Total dataset builds completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "climatedata_run_runtime_seconds",
			Help:    "Wall time per completed dataset build.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatedata_pages_fetched_total",
			Help: "Datastore result pages fetched per publisher.",
		}, []string{"publisher_ref"}),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatedata_activities_fetched_total",
			Help: "Activities received from the datastore per publisher.",
		}, []string{"publisher_ref"}),
		numFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climatedata_activities_matched",
			Help: "Server-reported match count of the most recent page per publisher.",
		}, []string{"publisher_ref"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "climatedata_page_duration_seconds",
			Help:    "Latency of datastore page requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.pagesFetched,
		s.recordsFetched,
		s.numFound,
		s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
		case progress.StageRunDone:
			s.observeCompletion(evt, "success")
		case progress.StageRunError:
			s.observeCompletion(evt, "error")
		case progress.StagePageDone:
			s.observePage(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeCompletion(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observePage(evt progress.Event) {
	ref := evt.PublisherRef
	if ref == "" {
		ref = "unknown"
	}
	s.pagesFetched.WithLabelValues(ref).Inc()
	if evt.Records > 0 {
		s.recordsFetched.WithLabelValues(ref).Add(float64(evt.Records))
	}
	s.numFound.WithLabelValues(ref).Set(float64(evt.Total))
	if evt.Dur > 0 {
		s.pageDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
