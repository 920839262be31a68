// Package thunk implements the executable units of a compiled-program
// runtime. A thunk is one scheduled operation; collective thunks coordinate
// with the other participants of a rendezvous key through a communicator and
// report completion through a single-assignment event, so the surrounding
// engine can overlap the exchange with other work.
package thunk

import (
	"errors"
	"time"

	"github.com/rocketbitz/collectives-go/cc"
)

// DefaultCollectiveTimeout bounds how long an exchange waits for the clique
// to rendezvous when the op does not specify its own budget.
const DefaultCollectiveTimeout = 30 * time.Second

// Kind identifies the concrete thunk behind the Thunk interface.
type Kind int

const (
	KindUnknown Kind = iota
	KindAllToAll
)

func (k Kind) String() string {
	switch k {
	case KindAllToAll:
		return "all-to-all"
	default:
		return "unknown"
	}
}

// Info identifies a thunk in logs, traces, and errors.
type Info struct {
	OpName     string
	ModuleName string
}

// Thunk is a self-contained executable unit. The engine holds thunks
// polymorphically and never depends on their concrete kind. Execute returns
// promptly — after local buffer resolution and request submission — with an
// event that resolves exactly once; no error escapes the call boundary.
// Repeated Execute calls on one instance must be serialized by the caller.
type Thunk interface {
	Kind() Kind
	Info() Info
	Execute(params *ExecuteParams) *cc.Event
}

// CollectiveParams carries the coordination context shared by the collective
// thunks of one execution: the rendezvous key components and the communicator
// lookup service.
type CollectiveParams struct {
	RunID           int64
	Rank            int
	NumParticipants int
	Registry        *cc.Registry
}

// ExecuteParams bundles everything a thunk needs for one invocation.
type ExecuteParams struct {
	Allocations *cc.BufferAllocations
	Collectives *CollectiveParams
}

// Logger provides printf-style debug logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to execution spans.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap thunk executions.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records execution lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures thunk execution telemetry.
type MetricHook interface {
	CollectiveStarted(attrs map[string]string)
	CollectiveCompleted(attrs map[string]string)
	CollectiveFailed(err error, attrs map[string]string)
	BindFailed(err error, attrs map[string]string)
}

// Options configures the observability hooks of a thunk. All fields are
// optional; a zero Options is silent.
type Options struct {
	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

const (
	labelKind   = "kind"
	labelOp     = "op"
	labelModule = "module"
	labelReason = "reason"
)

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

// failureReason buckets an execution error for metric labels.
func failureReason(err error) string {
	switch {
	case errors.Is(err, cc.ErrUnresolvedBuffer):
		return "unresolved_buffer"
	case errors.Is(err, cc.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, cc.ErrCommunicatorUnavailable):
		return "communicator_unavailable"
	case errors.Is(err, cc.ErrTimeout):
		return "timeout"
	case errors.Is(err, cc.ErrAbandoned):
		return "abandoned"
	default:
		return "transport"
	}
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanEnd(span Span, err error) {
	if span == nil {
		return
	}
	span.End(err)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}
