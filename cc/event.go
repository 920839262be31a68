package cc

import (
	"context"
	"sync"
)

// Event is a single-assignment completion cell shared by one producer (the
// thunk) and any number of observers. It resolves exactly once, either
// successfully or with an error; every observer sees the same outcome.
type Event struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	resolved  bool
	err       error
	callbacks []func(error)
}

// NewEvent returns an unresolved event.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// OKEvent returns an event already resolved successfully.
func OKEvent() *Event {
	ev := NewEvent()
	ev.Resolve(nil)
	return ev
}

// FailedEvent returns an event already resolved with err.
func FailedEvent(err error) *Event {
	ev := NewEvent()
	ev.Resolve(err)
	return ev
}

// Resolve assigns the event's outcome. A nil err marks success. Resolving an
// event twice is a programmer error and panics.
func (e *Event) Resolve(err error) {
	fired := false
	e.once.Do(func() {
		fired = true
		e.mu.Lock()
		e.resolved = true
		e.err = err
		callbacks := e.callbacks
		e.callbacks = nil
		e.mu.Unlock()

		close(e.done)

		for _, cb := range callbacks {
			cb := cb
			go cb(err)
		}
	})
	if !fired {
		panic("cc: event resolved twice")
	}
}

// IsAvailable reports whether the event has been resolved.
func (e *Event) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved
}

// Err returns the outcome. It is only meaningful once the event is available;
// calling it earlier returns nil regardless of the eventual outcome.
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done exposes a channel that closes when the event resolves.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Await blocks until the event resolves or the context is cancelled. When the
// event resolved first, its outcome wins over the context error.
func (e *Event) Await(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		select {
		case <-e.done:
			return e.Err()
		default:
		}
		return ctx.Err()
	}
}

// OnComplete registers a callback invoked asynchronously with the outcome.
// Callbacks registered after resolution still fire.
func (e *Event) OnComplete(fn func(error)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	if e.resolved {
		err := e.err
		e.mu.Unlock()
		go fn(err)
		return
	}
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}
