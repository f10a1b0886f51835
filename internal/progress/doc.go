// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the dataset runner uses to report pagination progress. The hub
// batches events on a background goroutine and fans them out to pluggable sinks
// such as a console progress bar, Prometheus metrics, or structured logs.
package progress
