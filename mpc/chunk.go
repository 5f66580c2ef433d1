package mpc

import (
	"github.com/hhcho/irismpc/device"
	"go.dedis.ch/onet/v3/log"
)

// ChunkShare is one party's pair of share buffers for a contiguous slice
// of a batch. A and B always have the same length.
type ChunkShare[T Word] struct {
	A []RingElement[T]
	B []RingElement[T]
}

func NewChunkShare[T Word](a, b []RingElement[T]) (ChunkShare[T], error) {
	if len(a) != len(b) {
		return ChunkShare[T]{}, configErrorf("chunk", "share buffers differ in length: %d != %d", len(a), len(b))
	}
	return ChunkShare[T]{A: a, B: b}, nil
}

func (c ChunkShare[T]) Len() int { return len(c.A) }

// View returns the sub-chunk [offset, offset+n) sharing memory with c.
func (c ChunkShare[T]) View(offset, n int) (ChunkShare[T], error) {
	if offset < 0 || n < 0 || offset+n > c.Len() {
		return ChunkShare[T]{}, configErrorf("chunk", "view [%d, %d) out of range for length %d", offset, offset+n, c.Len())
	}
	return ChunkShare[T]{A: c.A[offset : offset+n], B: c.B[offset : offset+n]}, nil
}

func (c ChunkShare[T]) Clone() ChunkShare[T] {
	out := ChunkShare[T]{
		A: make([]RingElement[T], len(c.A)),
		B: make([]RingElement[T], len(c.B)),
	}
	copy(out.A, c.A)
	copy(out.B, c.B)
	return out
}

func (c ChunkShare[T]) numBytes() int64 {
	return int64(2 * c.Len() * ByteWidth[T]())
}

// SplitEven returns the sizes of parts contiguous slices covering n
// elements. Earlier slices take the remainder.
func SplitEven(n, parts int) []int {
	if parts <= 0 {
		return nil
	}
	sizes := make([]int, parts)
	for i := range sizes {
		sizes[i] = n / parts
		if i < n%parts {
			sizes[i]++
		}
	}
	return sizes
}

// ShareStore holds one party's shares of a batch partitioned into one
// chunk per device.
type ShareStore[T Word] struct {
	chunks  []ChunkShare[T]
	devices []*device.Device
}

// NewShareStore partitions share across devices, reserving device memory
// for every chunk. Nothing stays reserved on error.
func NewShareStore[T Word](share ChunkShare[T], devices []*device.Device) (*ShareStore[T], error) {
	if len(devices) == 0 {
		return nil, configErrorf("store", "no devices")
	}
	if len(share.A) != len(share.B) {
		return nil, configErrorf("store", "share buffers differ in length: %d != %d", len(share.A), len(share.B))
	}

	store := &ShareStore[T]{
		chunks:  make([]ChunkShare[T], 0, len(devices)),
		devices: make([]*device.Device, 0, len(devices)),
	}
	offset := 0
	for d, size := range SplitEven(share.Len(), len(devices)) {
		view, err := share.View(offset, size)
		if err != nil {
			store.Free()
			return nil, err
		}
		chunk := view.Clone()
		if err := devices[d].Alloc(chunk.numBytes()); err != nil {
			store.Free()
			return nil, err
		}
		store.chunks = append(store.chunks, chunk)
		store.devices = append(store.devices, devices[d])
		offset += size
	}
	log.Lvl3("Share store:", share.Len(), "elements over", len(devices), "devices")
	return store, nil
}

func (s *ShareStore[T]) Chunks() []ChunkShare[T] { return s.chunks }

func (s *ShareStore[T]) Len() int {
	n := 0
	for _, c := range s.chunks {
		n += c.Len()
	}
	return n
}

// Free releases the device memory held by the store.
func (s *ShareStore[T]) Free() {
	for i, c := range s.chunks {
		s.devices[i].Free(c.numBytes())
	}
	s.chunks = nil
	s.devices = nil
}
