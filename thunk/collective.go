package thunk

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rocketbitz/collectives-go/cc"
)

// OpParams carries the per-op collective parameters fixed at compile time.
// OpID distinguishes collective ops within one program; together with the
// execution's RunID and participant count it forms the rendezvous key.
type OpParams struct {
	OpID    int64
	Timeout time.Duration
}

// OpBuffers declares the logical operand and result buffers of a collective
// op, index-aligned with their shapes. Slices stay abstract until Execute
// resolves them against the current allocations.
type OpBuffers struct {
	SourceBuffers []cc.BufferSlice
	SourceShapes  []cc.Shape

	DestinationBuffers []cc.BufferSlice
	DestinationShapes  []cc.Shape
}

// opDeviceMemory holds the regions of one invocation, index-aligned with the
// declared buffers. Never retained across invocations.
type opDeviceMemory struct {
	source      []cc.DeviceMemory
	destination []cc.DeviceMemory
}

// Stats contains counters for thunk executions.
type Stats struct {
	Started   uint64
	Completed uint64
	Failed    uint64
}

type thunkStats struct {
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// CollectiveThunk is the shared core of the collective thunks: buffer
// resolution, rendezvous key derivation, communicator acquisition, and the
// completion protocol. Concrete kinds supply the exchange itself.
type CollectiveThunk struct {
	kind    Kind
	info    Info
	op      OpParams
	buffers OpBuffers
	opts    Options
	stats   thunkStats
}

func newCollectiveThunk(kind Kind, info Info, op OpParams, buffers OpBuffers, opts Options) (CollectiveThunk, error) {
	if len(buffers.SourceBuffers) != len(buffers.SourceShapes) {
		return CollectiveThunk{}, fmt.Errorf("thunk %s: %d source buffers but %d source shapes",
			info.OpName, len(buffers.SourceBuffers), len(buffers.SourceShapes))
	}
	if len(buffers.DestinationBuffers) != len(buffers.DestinationShapes) {
		return CollectiveThunk{}, fmt.Errorf("thunk %s: %d destination buffers but %d destination shapes",
			info.OpName, len(buffers.DestinationBuffers), len(buffers.DestinationShapes))
	}
	if len(buffers.DestinationBuffers) == 0 {
		return CollectiveThunk{}, fmt.Errorf("thunk %s: collective op needs at least one destination buffer", info.OpName)
	}
	if op.Timeout <= 0 {
		op.Timeout = DefaultCollectiveTimeout
	}
	return CollectiveThunk{kind: kind, info: info, op: op, buffers: buffers, opts: opts}, nil
}

// Kind returns the concrete thunk kind.
func (t *CollectiveThunk) Kind() Kind { return t.kind }

// Info returns the thunk's identification.
func (t *CollectiveThunk) Info() Info { return t.info }

// Stats returns a snapshot of execution counters.
func (t *CollectiveThunk) Stats() Stats {
	return Stats{
		Started:   t.stats.started.Load(),
		Completed: t.stats.completed.Load(),
		Failed:    t.stats.failed.Load(),
	}
}

// opDeviceMemory re-resolves every declared buffer against the current
// allocations and checks each region against its shape-derived byte size.
// Pure lookup; no state is mutated.
func (t *CollectiveThunk) opDeviceMemory(params *ExecuteParams) (opDeviceMemory, error) {
	resolve := func(slices []cc.BufferSlice, shapes []cc.Shape) ([]cc.DeviceMemory, error) {
		regions := make([]cc.DeviceMemory, 0, len(slices))
		for i, slice := range slices {
			mem, err := params.Allocations.Resolve(slice)
			if err != nil {
				return nil, err
			}
			if want := shapes[i].ByteSize(); mem.Size() != want {
				return nil, cc.ShapeMismatchError{Slice: slice, Want: want, Got: mem.Size()}
			}
			regions = append(regions, mem)
		}
		return regions, nil
	}

	source, err := resolve(t.buffers.SourceBuffers, t.buffers.SourceShapes)
	if err != nil {
		return opDeviceMemory{}, err
	}
	destination, err := resolve(t.buffers.DestinationBuffers, t.buffers.DestinationShapes)
	if err != nil {
		return opDeviceMemory{}, err
	}
	return opDeviceMemory{source: source, destination: destination}, nil
}

// executeWithCommunicator acquires the communicator for the derived
// rendezvous key and runs the exchange on a background goroutine, resolving
// the returned event exactly once with the outcome. The exchange callback
// receives the key and the bound communicator; it must issue at most one
// request and is never retried here.
func (t *CollectiveThunk) executeWithCommunicator(params *ExecuteParams, exchange func(key cc.RendezvousKey, comm cc.Communicator) error) *cc.Event {
	cp := params.Collectives
	if cp == nil || cp.Registry == nil {
		return t.failExecution(nil, fmt.Errorf("thunk %s: no collective coordination context", t.info.OpName))
	}
	key := cc.RendezvousKey{RunID: cp.RunID, OpID: t.op.OpID, NumParticipants: cp.NumParticipants}

	t.stats.started.Add(1)
	span := t.startExecSpan(key)
	t.logExecEvent("start", logKV("key", key.String()), logKV("rank", cp.Rank))
	spanAddEvent(span, "start", logKV("key", key.String()), logKV("rank", cp.Rank))
	t.metricStarted()

	event := cc.NewEvent()
	go func() {
		comm, release, err := cp.Registry.Acquire(key, cp.Rank)
		if err != nil {
			t.recordBindFailure(span, key, err)
			spanEnd(span, err)
			event.Resolve(err)
			return
		}
		defer release()
		spanAddEvent(span, "communicator_bound", logKV("rank", comm.Rank()), logKV("num_ranks", comm.NumRanks()))

		err = exchange(key, comm)
		t.recordOutcome(span, key, err)
		spanEnd(span, err)
		event.Resolve(err)
	}()
	return event
}

// failExecution reports an error found before any communication was attempted
// (resolution failures, missing context). The event resolves synchronously;
// the transport is never touched.
func (t *CollectiveThunk) failExecution(span Span, err error) *cc.Event {
	t.stats.failed.Add(1)
	fields := []logField{logKV("status", "error"), logKV("error", err)}
	t.logExecEvent("aborted", fields...)
	spanAddEvent(span, "aborted", fields...)
	spanRecordError(span, err)
	spanEnd(span, err)
	t.metricFailed(err)
	return cc.FailedEvent(err)
}

func (t *CollectiveThunk) recordOutcome(span Span, key cc.RendezvousKey, err error) {
	if err == nil {
		t.stats.completed.Add(1)
		t.logExecEvent("completed", logKV("key", key.String()))
		spanAddEvent(span, "completed", logKV("key", key.String()))
		t.metricCompleted()
		return
	}
	t.stats.failed.Add(1)
	fields := []logField{logKV("key", key.String()), logKV("error", err)}
	t.logExecEvent("exchange_failed", fields...)
	spanAddEvent(span, "exchange_failed", fields...)
	spanRecordError(span, err)
	t.metricFailed(err)
}

func (t *CollectiveThunk) recordBindFailure(span Span, key cc.RendezvousKey, err error) {
	t.stats.failed.Add(1)
	fields := []logField{logKV("key", key.String()), logKV("error", err)}
	t.logExecEvent("bind_failed", fields...)
	spanAddEvent(span, "bind_failed", fields...)
	spanRecordError(span, err)
	t.metricBindFailed(err)
}

func (t *CollectiveThunk) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+3)
	attrs[labelKind] = t.kind.String()
	attrs[labelOp] = t.info.OpName
	if t.info.ModuleName != "" {
		attrs[labelModule] = t.info.ModuleName
	}
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (t *CollectiveThunk) metricStarted() {
	if t.opts.Metrics == nil {
		return
	}
	t.opts.Metrics.CollectiveStarted(t.metricAttrs())
}

func (t *CollectiveThunk) metricCompleted() {
	if t.opts.Metrics == nil {
		return
	}
	t.opts.Metrics.CollectiveCompleted(t.metricAttrs())
}

func (t *CollectiveThunk) metricFailed(err error) {
	if t.opts.Metrics == nil {
		return
	}
	t.opts.Metrics.CollectiveFailed(err, t.metricAttrs(logKV(labelReason, failureReason(err))))
}

func (t *CollectiveThunk) metricBindFailed(err error) {
	if t.opts.Metrics == nil {
		return
	}
	t.opts.Metrics.BindFailed(err, t.metricAttrs(logKV(labelReason, failureReason(err))))
}

func (t *CollectiveThunk) startExecSpan(key cc.RendezvousKey) Span {
	if t.opts.Tracer == nil {
		return nil
	}
	return t.opts.Tracer.StartSpan("collective-thunk-execute",
		TraceAttribute{Key: "kind", Value: t.kind.String()},
		TraceAttribute{Key: "op", Value: t.info.OpName},
		TraceAttribute{Key: "key", Value: key.String()},
	)
}

func (t *CollectiveThunk) logExecEvent(event string, fields ...logField) {
	if t.opts.StructuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+6)
		kv = append(kv, "event", event, "kind", t.kind.String(), "op", t.info.OpName)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		t.opts.StructuredLogger.Debugw("collective thunk", kv...)
		return
	}
	if t.opts.Logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	t.opts.Logger.Debugf("thunk %s %s %s", t.kind, t.info.OpName, b.String())
}
