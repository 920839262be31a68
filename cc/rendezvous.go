package cc

import "fmt"

// RendezvousKey identifies one logical collective instance. Every participant
// of the instance must present an identical key or the exchange cannot
// rendezvous. RunID distinguishes executions of the same program, OpID
// distinguishes collective operations within one execution.
type RendezvousKey struct {
	RunID           int64
	OpID            int64
	NumParticipants int
}

func (k RendezvousKey) String() string {
	return fmt.Sprintf("run=%d op=%d n=%d", k.RunID, k.OpID, k.NumParticipants)
}
