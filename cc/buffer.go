package cc

import (
	"fmt"

	"github.com/pkg/errors"
)

// BufferSlice identifies a contiguous byte range inside one logical buffer
// allocation, independent of any physical address. Slices are immutable and
// owned by the thunk that declares them.
type BufferSlice struct {
	Index  int
	Offset int
	Size   int
}

func (s BufferSlice) String() string {
	return fmt.Sprintf("slice{alloc=%d offset=%d size=%d}", s.Index, s.Offset, s.Size)
}

// DeviceMemory is a resolved memory region: a concrete byte span valid only
// for the duration of one execution. It must not be retained across calls.
type DeviceMemory struct {
	data []byte
}

// Bytes returns the backing byte span.
func (m DeviceMemory) Bytes() []byte { return m.data }

// Size returns the region length in bytes.
func (m DeviceMemory) Size() int { return len(m.data) }

// BufferAllocations maps allocation indices to the physical memory backing
// them for one execution. The mapping may change between executions of the
// same program (double buffering), so slices must be re-resolved every call.
//
// Lookups are read-only; BufferAllocations is safe for concurrent readers.
type BufferAllocations struct {
	buffers [][]byte
}

// NewBufferAllocations builds an execution context over the given backing
// buffers, indexed by position. A nil entry means the allocation has no
// physical backing in this context.
func NewBufferAllocations(buffers [][]byte) *BufferAllocations {
	return &BufferAllocations{buffers: buffers}
}

// NumAllocations returns the number of allocation table entries.
func (a *BufferAllocations) NumAllocations() int {
	if a == nil {
		return 0
	}
	return len(a.buffers)
}

// Resolve maps a logical slice to its concrete memory region. It fails with
// an UnresolvedBufferError when the slice has no backing allocation or its
// extent falls outside the allocation.
func (a *BufferAllocations) Resolve(slice BufferSlice) (DeviceMemory, error) {
	if a == nil || slice.Index < 0 || slice.Index >= len(a.buffers) {
		return DeviceMemory{}, UnresolvedBufferError{Slice: slice}
	}
	buf := a.buffers[slice.Index]
	if buf == nil {
		return DeviceMemory{}, UnresolvedBufferError{Slice: slice}
	}
	if slice.Offset < 0 || slice.Size < 0 || slice.Offset+slice.Size > len(buf) {
		return DeviceMemory{}, errors.Wrapf(UnresolvedBufferError{Slice: slice},
			"extent outside allocation of %d bytes", len(buf))
	}
	return DeviceMemory{data: buf[slice.Offset : slice.Offset+slice.Size : slice.Offset+slice.Size]}, nil
}
