package cc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnresolvedBuffer indicates that a logical buffer slice has no backing
	// allocation in the current execution context.
	ErrUnresolvedBuffer = errors.New("collectives: buffer slice unresolved")
	// ErrShapeMismatch indicates that a resolved region's byte length disagrees
	// with the size derived from its declared shape.
	ErrShapeMismatch = errors.New("collectives: shape byte size mismatch")
	// ErrCommunicatorUnavailable indicates that no communicator could be bound
	// for a rendezvous key.
	ErrCommunicatorUnavailable = errors.New("collectives: communicator unavailable")
	// ErrTimeout indicates that participants did not rendezvous in time.
	ErrTimeout = errors.New("collectives: rendezvous timed out")
	// ErrAbandoned indicates that another participant timed out and poisoned
	// the exchange before it could complete.
	ErrAbandoned = errors.New("collectives: exchange abandoned by participant")
)

// UnresolvedBufferError reports a slice that could not be resolved against the
// current buffer allocations.
type UnresolvedBufferError struct {
	Slice BufferSlice
}

func (e UnresolvedBufferError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnresolvedBuffer, e.Slice)
}

// Unwrap allows errors.Is to match against ErrUnresolvedBuffer.
func (e UnresolvedBufferError) Unwrap() error {
	return ErrUnresolvedBuffer
}

// ShapeMismatchError reports a resolved region whose byte length does not
// match the shape-derived expectation.
type ShapeMismatchError struct {
	Slice BufferSlice
	Want  int
	Got   int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("%v: %s (want %d bytes, got %d)", ErrShapeMismatch, e.Slice, e.Want, e.Got)
}

// Unwrap allows errors.Is to match against ErrShapeMismatch.
func (e ShapeMismatchError) Unwrap() error {
	return ErrShapeMismatch
}

// CommunicatorUnavailableError reports a failed communicator binding for a
// rendezvous key. The failure may be transient; retrying is the caller's call.
type CommunicatorUnavailableError struct {
	Key RendezvousKey
	Err error
}

func (e CommunicatorUnavailableError) Error() string {
	return fmt.Sprintf("%v: key %s: %v", ErrCommunicatorUnavailable, e.Key, e.Err)
}

// Unwrap exposes the underlying cause; errors.Is also matches
// ErrCommunicatorUnavailable through the sentinel returned by Is.
func (e CommunicatorUnavailableError) Unwrap() error {
	return e.Err
}

// Is reports sentinel identity so errors.Is(err, ErrCommunicatorUnavailable) holds.
func (e CommunicatorUnavailableError) Is(target error) bool {
	return target == ErrCommunicatorUnavailable
}

// TransportError reports a failed exchange, including timeouts. It carries the
// rendezvous key and the timeout budget that applied to the exchange.
type TransportError struct {
	Op      string
	Key     RendezvousKey
	Rank    int
	Timeout time.Duration
	Err     error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("collectives transport %s failed: key %s rank %d timeout %s: %v",
		e.Op, e.Key, e.Rank, e.Timeout, e.Err)
}

// Unwrap allows errors.Is / errors.As to match against the underlying cause,
// including ErrTimeout for rendezvous timeouts.
func (e TransportError) Unwrap() error {
	return e.Err
}
