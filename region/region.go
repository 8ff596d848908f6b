// Package region defines the fixed-layout memory block shared between the
// elevated-privilege side and the userspace relay process. It is pure data:
// a bounded request queue plus a single result slot. All synchronization is
// external, except that the occupancy count is always accessed atomically so
// a consumer never observes a slot before its payload is published.
package region

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Capacity is the fixed number of request slots in the shared queue.
const Capacity = 4

// MapSize is the size of the mapping window that holds a shared region.
// The region itself occupies Size bytes at the start of the window.
const MapSize = 1024

// Request is one trapped MMIO access awaiting emulation.
// It has the same layout as the C struct device_req.
type Request struct {
	OriginCPU  uint64
	Address    uint64
	Size       uint64
	Value      uint64
	OriginCell uint32
	IsWrite    uint8
	IsConfig   uint8
	_          [2]byte
}

// Result is the outcome of emulating exactly one pending request. The origin
// CPU is the correlation key: it routes the result back to the execution
// context suspended on that CPU.
// It has the same layout as the C struct device_result.
type Result struct {
	OriginCPU uint64
	Value     uint64
	IsConfig  uint8
	_         [7]byte
}

// shared has the same layout as the C struct hvisor_device_region.
type shared struct {
	count    uint32
	_        [4]byte
	requests [Capacity]Request
	result   Result
}

// Size is the size of the shared region in bytes.
const Size = int(unsafe.Sizeof(shared{}))

var (
	ErrMapping = errors.New("region: bad mapping")
	ErrFull    = errors.New("region: request queue is full")
	ErrCorrupt = errors.New("region: request count exceeds capacity")
)

// Region is a view of a shared region mapped into this process.
type Region struct {
	s *shared
}

// Map overlays a region onto the given mapping. The mapping must be at least
// Size bytes long and 8-byte aligned, which is always true for a slice
// returned by unix.Mmap.
func Map(b []byte) (*Region, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("%w: %d bytes < %d", ErrMapping, len(b), Size)
	}

	if uintptr(unsafe.Pointer(&b[0]))%8 != 0 {
		return nil, fmt.Errorf("%w: not 8-byte aligned", ErrMapping)
	}

	return &Region{s: (*shared)(unsafe.Pointer(&b[0]))}, nil
}

// Count returns the number of occupied request slots.
func (r *Region) Count() int {
	return int(atomic.LoadUint32(&r.s.count))
}

// Push appends a request to the queue. It is the producer-side operation:
// the elevated side calls its equivalent when a trapped access is forwarded.
// The payload is written before the new count is published. Push returns
// ErrFull when all slots are occupied; the producer retries.
func (r *Region) Push(req Request) error {
	n := atomic.LoadUint32(&r.s.count)
	if n >= Capacity {
		return ErrFull
	}

	r.s.requests[n] = req
	atomic.StoreUint32(&r.s.count, n+1)

	return nil
}

// Snapshot copies the pending requests out of the queue. The queue is not
// consumed: slots stay occupied until Retire. Later producer writes do not
// mutate the returned batch.
func (r *Region) Snapshot() ([]Request, error) {
	n := atomic.LoadUint32(&r.s.count)
	if n > Capacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrCorrupt, n, Capacity)
	}

	if n == 0 {
		return nil, nil
	}

	batch := make([]Request, n)
	copy(batch, r.s.requests[:n])

	return batch, nil
}

// Retire removes the pending request whose origin CPU matches, compacting
// the remaining slots in place. Other pending requests are untouched apart
// from their slot index. It reports whether a matching request was found.
func (r *Region) Retire(originCPU uint64) (bool, error) {
	n := atomic.LoadUint32(&r.s.count)
	if n > Capacity {
		return false, fmt.Errorf("%w: %d > %d", ErrCorrupt, n, Capacity)
	}

	for i := uint32(0); i < n; i++ {
		if r.s.requests[i].OriginCPU != originCPU {
			continue
		}

		copy(r.s.requests[i:n-1], r.s.requests[i+1:n])
		r.s.requests[n-1] = Request{}
		atomic.StoreUint32(&r.s.count, n-1)

		return true, nil
	}

	return false, nil
}

// PublishResult writes the single result slot. The caller must not publish
// again until the elevated side has consumed the previous result; the relay
// serializes this by holding its lock across publish and completion.
func (r *Region) PublishResult(res Result) {
	r.s.result = res
}

// ReadResult returns the current contents of the result slot.
// It is the elevated side's operation, used here by tests and tooling.
func (r *Region) ReadResult() Result {
	return r.s.result
}
