package cc

import "time"

// Communicator is an established communication session for one participant of
// a rendezvous key. Implementations own data movement, participant pairing,
// and timeout enforcement; they must be safe for use by one participant at a
// time per operation.
type Communicator interface {
	// Rank returns this participant's position within the clique.
	Rank() int
	// NumRanks returns the clique size.
	NumRanks() int
	// AllToAll exchanges fixed-size shards between all participants: input
	// slot i is sent to rank i, and output slot i receives rank i's shard for
	// this participant. Exactly elemByteSize bytes move per slot. Slot order
	// is semantically significant and must be preserved. The exchange fails
	// with a TransportError wrapping ErrTimeout when the clique does not
	// rendezvous within timeout; destination regions are then left untouched.
	AllToAll(key RendezvousKey, elemByteSize int, inputs, outputs [][]byte, timeout time.Duration) error
}

// Transport establishes communicators. Implementations are process-wide,
// thread-safe services; Connect may block until the clique is reachable.
type Transport interface {
	Connect(key RendezvousKey, rank int) (Communicator, error)
}
