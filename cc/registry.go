package cc

import (
	"io"
	"sync"
)

// Registry is the process-wide communicator table, keyed by rendezvous key.
// A clique entry is created on first acquisition, shared by every thunk that
// presents the same key, and torn down only when the last holder releases it;
// an entry is never dropped while a rendezvous is pending.
type Registry struct {
	transport Transport

	mu      sync.Mutex
	entries map[RendezvousKey]*registryEntry
}

type registryEntry struct {
	refs  int
	comms map[int]Communicator
}

// NewRegistry builds a registry over the given transport.
func NewRegistry(transport Transport) *Registry {
	return &Registry{
		transport: transport,
		entries:   make(map[RendezvousKey]*registryEntry),
	}
}

// Acquire binds a communicator for (key, rank), connecting through the
// transport on first use. The returned release function must be called once
// the collective instance has completed; calling it more than once is a
// no-op. Binding failures surface as CommunicatorUnavailableError.
func (r *Registry) Acquire(key RendezvousKey, rank int) (Communicator, func(), error) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &registryEntry{comms: make(map[int]Communicator)}
		r.entries[key] = entry
	}
	entry.refs++
	comm, connected := entry.comms[rank]
	r.mu.Unlock()

	if !connected {
		var err error
		comm, err = r.transport.Connect(key, rank)
		if err != nil {
			r.release(key)
			return nil, nil, CommunicatorUnavailableError{Key: key, Err: err}
		}
		r.mu.Lock()
		existing, ok := entry.comms[rank]
		if ok {
			r.mu.Unlock()
			// Lost a concurrent connect for the same rank; drop ours.
			if closer, isCloser := comm.(io.Closer); isCloser {
				_ = closer.Close()
			}
			comm = existing
		} else {
			entry.comms[rank] = comm
			r.mu.Unlock()
		}
	}

	var once sync.Once
	release := func() { once.Do(func() { r.release(key) }) }
	return comm, release, nil
}

// NumKeys reports the number of live clique entries.
func (r *Registry) NumKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) release(key RendezvousKey) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	comms := entry.comms
	r.mu.Unlock()

	for _, comm := range comms {
		if closer, ok := comm.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
