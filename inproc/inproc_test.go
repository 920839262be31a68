package inproc

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rocketbitz/collectives-go/cc"
)

// shard fills one payload with a recognizable (source, destination) marker.
func shard(src, dst, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(16*src + dst)
	}
	return buf
}

func TestAllToAllPermutation(t *testing.T) {
	const n = 4
	const elemSize = 8
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 1, OpID: 1, NumParticipants: n}

	outputs := make([][][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		rank := rank
		inputs := make([][]byte, n)
		outs := make([][]byte, n)
		for slot := 0; slot < n; slot++ {
			inputs[slot] = shard(rank, slot, elemSize)
			outs[slot] = make([]byte, elemSize)
		}
		outputs[rank] = outs

		wg.Add(1)
		go func() {
			defer wg.Done()
			comm, err := transport.Connect(key, rank)
			if err != nil {
				errs[rank] = err
				return
			}
			errs[rank] = comm.AllToAll(key, elemSize, inputs, outs, 5*time.Second)
		}()
	}
	wg.Wait()

	for rank := 0; rank < n; rank++ {
		if errs[rank] != nil {
			t.Fatalf("rank %d failed: %v", rank, errs[rank])
		}
		for slot := 0; slot < n; slot++ {
			// Output slot s of rank r holds what rank s addressed to rank r.
			want := shard(slot, rank, elemSize)
			if !bytes.Equal(outputs[rank][slot], want) {
				t.Fatalf("rank %d slot %d: got %v want %v", rank, slot, outputs[rank][slot], want)
			}
		}
	}
}

func TestAllToAllTimeoutLeavesDestinationsUntouched(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 2, OpID: 1, NumParticipants: 2}

	comm, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	inputs := [][]byte{shard(0, 0, 4), shard(0, 1, 4)}
	outputs := [][]byte{make([]byte, 4), make([]byte, 4)}

	err = comm.AllToAll(key, 4, inputs, outputs, 20*time.Millisecond)
	if !errors.Is(err, cc.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var te cc.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if te.Timeout != 20*time.Millisecond {
		t.Fatalf("timeout budget not carried: %v", te.Timeout)
	}

	for slot, out := range outputs {
		if !bytes.Equal(out, make([]byte, 4)) {
			t.Fatalf("destination slot %d mutated after timeout: %v", slot, out)
		}
	}
}

func TestAllToAllAbandonedExchange(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 3, OpID: 1, NumParticipants: 2}

	comm0, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect rank 0: %v", err)
	}
	comm1, err := transport.Connect(key, 1)
	if err != nil {
		t.Fatalf("connect rank 1: %v", err)
	}

	buffers := func() ([][]byte, [][]byte) {
		return [][]byte{make([]byte, 4), make([]byte, 4)}, [][]byte{make([]byte, 4), make([]byte, 4)}
	}

	in0, out0 := buffers()
	if err := comm0.AllToAll(key, 4, in0, out0, 10*time.Millisecond); !errors.Is(err, cc.ErrTimeout) {
		t.Fatalf("rank 0 expected timeout, got %v", err)
	}

	// Rank 1 arrives late; the exchange was poisoned by rank 0's timeout.
	in1, out1 := buffers()
	err = comm1.AllToAll(key, 4, in1, out1, 10*time.Millisecond)
	if !errors.Is(err, cc.ErrAbandoned) {
		t.Fatalf("rank 1 expected abandoned exchange, got %v", err)
	}
	for slot, out := range out1 {
		if !bytes.Equal(out, make([]byte, 4)) {
			t.Fatalf("late rank destination slot %d mutated: %v", slot, out)
		}
	}
}

func TestAllToAllDuplicateRank(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 4, OpID: 1, NumParticipants: 2}

	first, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	second, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect duplicate: %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		in := [][]byte{make([]byte, 4), make([]byte, 4)}
		out := [][]byte{make([]byte, 4), make([]byte, 4)}
		firstErr <- first.AllToAll(key, 4, in, out, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)

	in := [][]byte{make([]byte, 4), make([]byte, 4)}
	out := [][]byte{make([]byte, 4), make([]byte, 4)}
	if err := second.AllToAll(key, 4, in, out, time.Second); err == nil {
		t.Fatal("duplicate rank join should fail")
	}

	select {
	case err := <-firstErr:
		if err == nil {
			t.Fatal("poisoned exchange should fail the waiting rank")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting rank not released")
	}
}

func TestAllToAllSlotValidation(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 5, OpID: 1, NumParticipants: 2}

	comm, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Wrong slot count.
	err = comm.AllToAll(key, 4, [][]byte{make([]byte, 4)}, [][]byte{make([]byte, 4)}, time.Second)
	if err == nil {
		t.Fatal("slot count mismatch should fail")
	}

	// Undersized destination region.
	comm2, err := transport.Connect(cc.RendezvousKey{RunID: 6, OpID: 1, NumParticipants: 2}, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	key2 := cc.RendezvousKey{RunID: 6, OpID: 1, NumParticipants: 2}
	err = comm2.AllToAll(key2, 4,
		[][]byte{make([]byte, 4), make([]byte, 4)},
		[][]byte{make([]byte, 4), make([]byte, 2)}, time.Second)
	if err == nil {
		t.Fatal("undersized region should fail")
	}
}

func TestConnectValidation(t *testing.T) {
	transport := NewTransport()
	if _, err := transport.Connect(cc.RendezvousKey{RunID: 1, OpID: 1, NumParticipants: 0}, 0); err == nil {
		t.Fatal("empty clique should be rejected")
	}
	key := cc.RendezvousKey{RunID: 1, OpID: 1, NumParticipants: 2}
	if _, err := transport.Connect(key, 2); err == nil {
		t.Fatal("out-of-range rank should be rejected")
	}
	if _, err := transport.Connect(key, -1); err == nil {
		t.Fatal("negative rank should be rejected")
	}
}

func TestDistinctKeysDoNotBlockEachOther(t *testing.T) {
	transport := NewTransport()
	const elemSize = 4
	keyA := cc.RendezvousKey{RunID: 10, OpID: 1, NumParticipants: 2}
	keyB := cc.RendezvousKey{RunID: 11, OpID: 1, NumParticipants: 2}

	run := func(key cc.RendezvousKey, rank int, done chan<- error) {
		comm, err := transport.Connect(key, rank)
		if err != nil {
			done <- err
			return
		}
		in := [][]byte{shard(rank, 0, elemSize), shard(rank, 1, elemSize)}
		out := [][]byte{make([]byte, elemSize), make([]byte, elemSize)}
		done <- comm.AllToAll(key, elemSize, in, out, 5*time.Second)
	}

	// Key A's rank 0 is parked waiting for its straggler.
	aDone := make(chan error, 2)
	go run(keyA, 0, aDone)
	time.Sleep(20 * time.Millisecond)

	// Key B completes in full while A is still pending.
	bDone := make(chan error, 2)
	go run(keyB, 0, bDone)
	go run(keyB, 1, bDone)
	for i := 0; i < 2; i++ {
		select {
		case err := <-bDone:
			if err != nil {
				t.Fatalf("key B participant failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("key B blocked behind key A")
		}
	}

	// Release A's straggler; A completes too.
	go run(keyA, 1, aDone)
	for i := 0; i < 2; i++ {
		select {
		case err := <-aDone:
			if err != nil {
				t.Fatalf("key A participant failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("key A did not complete")
		}
	}
}

func TestCommunicatorClose(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 20, OpID: 1, NumParticipants: 1}

	comm, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	closer, ok := comm.(interface{ Close() error })
	if !ok {
		t.Fatal("inproc communicator should be closable")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}

	in := [][]byte{make([]byte, 4)}
	out := [][]byte{make([]byte, 4)}
	if err := comm.AllToAll(key, 4, in, out, time.Second); err == nil {
		t.Fatal("closed communicator should refuse operations")
	}
}

func TestSingleParticipantAllToAll(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 30, OpID: 1, NumParticipants: 1}

	comm, err := transport.Connect(key, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	in := [][]byte{[]byte{1, 2, 3, 4}}
	out := [][]byte{make([]byte, 4)}
	if err := comm.AllToAll(key, 4, in, out, time.Second); err != nil {
		t.Fatalf("self exchange failed: %v", err)
	}
	if !bytes.Equal(out[0], in[0]) {
		t.Fatalf("self exchange mismatch: got %v", out[0])
	}
}

func TestSequentialExchangesOnOneClique(t *testing.T) {
	transport := NewTransport()
	key := cc.RendezvousKey{RunID: 40, OpID: 1, NumParticipants: 2}

	comms := make([]cc.Communicator, 2)
	for rank := range comms {
		comm, err := transport.Connect(key, rank)
		if err != nil {
			t.Fatalf("connect rank %d: %v", rank, err)
		}
		comms[rank] = comm
	}

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		results := make([][][]byte, 2)
		for rank := 0; rank < 2; rank++ {
			rank := rank
			in := [][]byte{shard(rank, round, 4), shard(rank, round+1, 4)}
			out := [][]byte{make([]byte, 4), make([]byte, 4)}
			results[rank] = out
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[rank] = comms[rank].AllToAll(key, 4, in, out, 5*time.Second)
			}()
		}
		wg.Wait()
		for rank, err := range errs {
			if err != nil {
				t.Fatalf("round %d rank %d: %v", round, rank, err)
			}
		}
		if !bytes.Equal(results[0][1], shard(1, round, 4)) {
			t.Fatalf("round %d: rank 0 slot 1 mismatch: %v", round, results[0][1])
		}
	}
}
