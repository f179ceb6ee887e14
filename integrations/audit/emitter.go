package audit

import (
	"context"
	"time"

	"basketpool/core/events"
)

// Emitter adapts a Store to events.Emitter. Each emitted event is written with
// the height reported by Height. Write failures are passed to OnError since
// Emit cannot return them.
type Emitter struct {
	Store   *Store
	Height  func() uint64
	OnError func(events.Event, error)
	Timeout time.Duration
}

func (e *Emitter) Emit(evt events.Event) {
	if e == nil || e.Store == nil || evt == nil {
		return
	}
	var height uint64
	if e.Height != nil {
		height = e.Height()
	}
	ctx := context.Background()
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	if _, err := e.Store.Record(ctx, height, evt); err != nil && e.OnError != nil {
		e.OnError(evt, err)
	}
}
