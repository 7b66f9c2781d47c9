package response

import "modeld/pkg/types"

// poolAcquirer is the slice of internal/pool.Pool this allocator needs; kept
// as an interface so response does not import internal/pool directly and
// tests can stub it without a real byte budget.
type poolAcquirer interface {
	TryAcquire(n uint64) bool
	Release(n uint64)
}

// BytesAllocator is the production Allocator: it backs every buffer with a
// plain []byte and, when asked for CPU_PINNED, tries the pinned pool first,
// downgrading to CPU_PINNED's pageable counterpart when the pool is
// exhausted (spec.md §6 "The allocator may downgrade memory type").
type BytesAllocator struct {
	pinned poolAcquirer
}

// NewBytesAllocator returns a BytesAllocator that tries to reserve from
// pinnedPool (nil means "no pinned pool configured": every request is
// served from pageable memory).
func NewBytesAllocator(pinnedPool poolAcquirer) *BytesAllocator {
	return &BytesAllocator{pinned: pinnedPool}
}

// Alloc implements Allocator.
func (a *BytesAllocator) Alloc(name string, byteSize uint64, preferredType types.MemoryType, preferredDeviceID int) ([]byte, any, types.MemoryType, int, error) {
	actual := types.MemoryCPU
	if preferredType == types.MemoryPinned && a.pinned != nil && a.pinned.TryAcquire(byteSize) {
		actual = types.MemoryPinned
	}
	buf := make([]byte, byteSize)
	return buf, nil, actual, preferredDeviceID, nil
}

// Release implements Allocator.
func (a *BytesAllocator) Release(buf []byte, userp any, byteSize uint64, actualType types.MemoryType, deviceID int) {
	if actualType == types.MemoryPinned && a.pinned != nil {
		a.pinned.Release(byteSize)
	}
}
