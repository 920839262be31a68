package thunk

import (
	"github.com/rocketbitz/collectives-go/cc"
)

// AllToAllThunk exchanges a distinct shard with every participant of the
// rendezvous key: input slot i is delivered to rank i and output slot i is
// filled with rank i's shard. All destination buffers share one shape, so the
// element byte size of the exchange derives from destination shape 0.
type AllToAllThunk struct {
	CollectiveThunk
}

var _ Thunk = (*AllToAllThunk)(nil)

// NewAllToAll builds an all-to-all thunk over the declared buffers.
func NewAllToAll(info Info, op OpParams, buffers OpBuffers, opts Options) (*AllToAllThunk, error) {
	base, err := newCollectiveThunk(KindAllToAll, info, op, buffers, opts)
	if err != nil {
		return nil, err
	}
	return &AllToAllThunk{CollectiveThunk: base}, nil
}

// Execute resolves the declared buffers, builds the ordered region lists, and
// issues the exchange through the communicator bound to the derived
// rendezvous key. It returns after submission; the outcome — including any
// resolution failure, which never reaches the transport — arrives through
// the returned event, resolved exactly once.
func (t *AllToAllThunk) Execute(params *ExecuteParams) *cc.Event {
	data, err := t.opDeviceMemory(params)
	if err != nil {
		return t.failExecution(nil, err)
	}

	elemByteSize := t.buffers.DestinationShapes[0].ByteSize()

	// Slot order pairs each region with a participant; preserve it.
	inputs := make([][]byte, 0, len(data.source))
	for _, mem := range data.source {
		inputs = append(inputs, mem.Bytes())
	}
	outputs := make([][]byte, 0, len(data.destination))
	for _, mem := range data.destination {
		outputs = append(outputs, mem.Bytes())
	}

	return t.executeWithCommunicator(params, func(key cc.RendezvousKey, comm cc.Communicator) error {
		return comm.AllToAll(key, elemByteSize, inputs, outputs, t.op.Timeout)
	})
}
