// Package inproc provides an in-process collective transport for participants
// that live in the same address space (one goroutine per participant). It is
// the single-host counterpart of a network transport: participants rendezvous
// on a shared key, and shards move with plain memory copies.
package inproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/rocketbitz/collectives-go/cc"
)

// Transport implements cc.Transport over shared memory. It is safe for
// concurrent use; cliques for distinct rendezvous keys are fully independent.
type Transport struct {
	mu      sync.Mutex
	cliques map[cc.RendezvousKey]*clique
}

var _ cc.Transport = (*Transport)(nil)

// NewTransport returns an empty in-process transport.
func NewTransport() *Transport {
	return &Transport{cliques: make(map[cc.RendezvousKey]*clique)}
}

// Connect binds rank into the clique for key, creating the clique on first
// use. Ranks must be unique per key; uniqueness is enforced at exchange time.
func (t *Transport) Connect(key cc.RendezvousKey, rank int) (cc.Communicator, error) {
	if key.NumParticipants <= 0 {
		return nil, fmt.Errorf("inproc: key %s has no participants", key)
	}
	if rank < 0 || rank >= key.NumParticipants {
		return nil, fmt.Errorf("inproc: rank %d out of range for key %s", rank, key)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	cl, ok := t.cliques[key]
	if !ok {
		cl = &clique{
			transport: t,
			key:       key,
			exchanges: make(map[uint64]*exchange),
		}
		t.cliques[key] = cl
	}
	cl.open++
	return &communicator{clique: cl, rank: rank}, nil
}

func (t *Transport) remove(key cc.RendezvousKey) {
	t.mu.Lock()
	delete(t.cliques, key)
	t.mu.Unlock()
}

// clique holds the rendezvous state shared by all ranks of one key. Exchanges
// are numbered per rank; caller-serialized invocation means rank-local
// sequence numbers line up across the clique.
type clique struct {
	transport *Transport
	key       cc.RendezvousKey

	mu        sync.Mutex
	open      int
	exchanges map[uint64]*exchange
}

func (c *clique) exchange(seq uint64) *exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.exchanges[seq]
	if !ok {
		n := c.key.NumParticipants
		ex = &exchange{
			n:       n,
			inputs:  make([][][]byte, n),
			outputs: make([][][]byte, n),
			done:    make(chan struct{}),
		}
		c.exchanges[seq] = ex
	}
	return ex
}

func (c *clique) retire(seq uint64) {
	c.mu.Lock()
	delete(c.exchanges, seq)
	c.mu.Unlock()
}

func (c *clique) release() {
	c.mu.Lock()
	c.open--
	last := c.open == 0
	c.mu.Unlock()
	if last {
		c.transport.remove(c.key)
	}
}

// exchange is one all-to-all instance. Shards are copied only after every
// rank has arrived, so a timed-out exchange never mutates any destination.
type exchange struct {
	n int

	mu       sync.Mutex
	elemSize int
	arrived  int
	returned int
	inputs   [][][]byte
	outputs  [][][]byte
	err      error
	finished bool
	done     chan struct{}
}

// fail poisons the exchange. Must be called with ex.mu held.
func (ex *exchange) fail(err error) {
	if ex.finished {
		return
	}
	ex.finished = true
	ex.err = err
	close(ex.done)
}

type communicator struct {
	clique *clique
	rank   int

	mu     sync.Mutex
	seq    uint64
	closed bool
}

var _ cc.Communicator = (*communicator)(nil)

func (c *communicator) Rank() int     { return c.rank }
func (c *communicator) NumRanks() int { return c.clique.key.NumParticipants }

// Close detaches the rank from its clique; the clique itself is dropped when
// the last rank closes.
func (c *communicator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.clique.release()
	return nil
}

// AllToAll performs one in-memory shuffle with the clique: input slot i goes
// to rank i, output slot i receives rank i's shard for this rank. It blocks
// until every rank arrives or the timeout expires.
func (c *communicator) AllToAll(key cc.RendezvousKey, elemByteSize int, inputs, outputs [][]byte, timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.transportError(key, timeout, fmt.Errorf("communicator closed"))
	}
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	ex := c.clique.exchange(seq)

	ex.mu.Lock()
	if err := c.join(ex, key, elemByteSize, inputs, outputs, timeout); err != nil {
		ex.returned++
		retired := ex.returned == ex.n
		ex.mu.Unlock()
		if retired {
			c.clique.retire(seq)
		}
		return err
	}
	last := ex.arrived == ex.n
	if last {
		// Every rank is present and validated; move the shards before waking anyone.
		for dst := 0; dst < ex.n; dst++ {
			for src := 0; src < ex.n; src++ {
				copy(ex.outputs[dst][src][:ex.elemSize], ex.inputs[src][dst][:ex.elemSize])
			}
		}
		ex.finished = true
		close(ex.done)
	}
	ex.mu.Unlock()

	var err error
	if !last {
		select {
		case <-ex.done:
			ex.mu.Lock()
			err = ex.err
			ex.mu.Unlock()
		case <-time.After(timeout):
			ex.mu.Lock()
			if ex.finished {
				// Completed while the timer fired; outcome stands.
				err = ex.err
			} else {
				err = c.transportError(key, timeout, cc.ErrTimeout)
				ex.fail(cc.TransportError{
					Op: "all-to-all", Key: key, Rank: c.rank, Timeout: timeout, Err: cc.ErrAbandoned,
				})
			}
			ex.mu.Unlock()
		}
	}

	ex.mu.Lock()
	ex.returned++
	retired := ex.returned == ex.n
	ex.mu.Unlock()
	if retired {
		c.clique.retire(seq)
	}
	return err
}

// join registers this rank's regions. Must be called with ex.mu held.
func (c *communicator) join(ex *exchange, key cc.RendezvousKey, elemByteSize int, inputs, outputs [][]byte, timeout time.Duration) error {
	if ex.finished {
		if ex.err != nil {
			return ex.err
		}
		return c.transportError(key, timeout, cc.ErrAbandoned)
	}
	if ex.inputs[c.rank] != nil {
		err := c.transportError(key, timeout, fmt.Errorf("rank %d joined twice", c.rank))
		ex.fail(err)
		return err
	}
	if len(inputs) != ex.n || len(outputs) != ex.n {
		err := c.transportError(key, timeout,
			fmt.Errorf("want %d input and output slots, got %d and %d", ex.n, len(inputs), len(outputs)))
		ex.fail(err)
		return err
	}
	if ex.arrived == 0 {
		ex.elemSize = elemByteSize
	} else if ex.elemSize != elemByteSize {
		err := c.transportError(key, timeout,
			fmt.Errorf("element size disagreement: clique uses %d, rank %d sent %d", ex.elemSize, c.rank, elemByteSize))
		ex.fail(err)
		return err
	}
	for slot := 0; slot < ex.n; slot++ {
		if len(inputs[slot]) < elemByteSize || len(outputs[slot]) < elemByteSize {
			err := c.transportError(key, timeout,
				fmt.Errorf("slot %d smaller than element size %d", slot, elemByteSize))
			ex.fail(err)
			return err
		}
	}
	ex.inputs[c.rank] = inputs
	ex.outputs[c.rank] = outputs
	ex.arrived++
	return nil
}

func (c *communicator) transportError(key cc.RendezvousKey, timeout time.Duration, cause error) error {
	return cc.TransportError{Op: "all-to-all", Key: key, Rank: c.rank, Timeout: timeout, Err: cause}
}
