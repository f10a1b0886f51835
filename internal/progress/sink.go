package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines; the hub calls them from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// runner can remain agnostic about how events are buffered or rendered.
type Emitter interface {
	Emit(evt Event)
}

// Flusher is implemented by emitters that can deliver queued events on demand.
type Flusher interface {
	Flush(ctx context.Context) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
