package thunk

import (
	"context"
	"fmt"

	"github.com/rocketbitz/collectives-go/cc"
)

// Sequence executes thunks serially, awaiting each completion before starting
// the next. It is the smallest consumer of the thunk completion contract; a
// real engine would overlap independent thunks instead.
type Sequence struct {
	thunks []Thunk
}

// NewSequence builds a serial sequence over the given thunks.
func NewSequence(thunks ...Thunk) *Sequence {
	return &Sequence{thunks: thunks}
}

// Len returns the number of thunks in the sequence.
func (s *Sequence) Len() int { return len(s.thunks) }

// Execute runs the sequence on a background goroutine and returns an event
// that resolves when every thunk has completed, or with the first failure.
// The failing thunk is identified in the error; no thunk after it runs.
func (s *Sequence) Execute(ctx context.Context, params *ExecuteParams) *cc.Event {
	event := cc.NewEvent()
	go func() {
		for _, th := range s.thunks {
			if err := th.Execute(params).Await(ctx); err != nil {
				event.Resolve(fmt.Errorf("thunk %s %q: %w", th.Kind(), th.Info().OpName, err))
				return
			}
		}
		event.Resolve(nil)
	}()
	return event
}
