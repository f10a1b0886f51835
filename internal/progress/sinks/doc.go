// Package sinks implements concrete progress consumers: a console progress bar,
// Prometheus collectors, and structured logging. Each sink satisfies the
// progress.Sink interface.
package sinks
