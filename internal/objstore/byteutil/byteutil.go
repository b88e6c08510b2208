// Package byteutil provides the small byte-range primitives the object
// store format builds on: big-endian integer packing for the version file
// header/trailer fields, a bounded FIFO byte buffer for draining an
// incoming byte stream into fixed-size writes, and constant-time-free byte
// equality for the few places the store compares whole buffers.
//
// Sizing and pooling choices mirror the bucketed byte-pool idiom used
// elsewhere in this module for buffer reuse, generalized here to the
// version-file write path instead of read-ahead caching.
package byteutil

import (
	"encoding/binary"
	"io"
	"sync"
)

// PutUint32 writes v as 4 big-endian bytes into dst (spec §3: lengths are
// u32, offsets are u64).
func PutUint32(dst []byte, v uint32) {
	binary.BigEndian.PutUint32(dst, v)
}

// Uint32 reads a big-endian uint32 from src.
func Uint32(src []byte) uint32 {
	return binary.BigEndian.Uint32(src)
}

// PutUint64 writes v as 8 big-endian bytes into dst.
func PutUint64(dst []byte, v uint64) {
	binary.BigEndian.PutUint64(dst, v)
}

// Uint64 reads a big-endian uint64 from src.
func Uint64(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// AppendUint32 appends v to dst as 4 big-endian bytes.
func AppendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// AppendUint64 appends v to dst as 8 big-endian bytes.
func AppendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// Equal reports whether a and b hold the same bytes.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// bucketSizes are the preallocated chunk sizes the FIFO reuses, mirroring
// the size-bucketed byte pool idiom used elsewhere for buffer reuse.
var bucketSizes = []int{4096, 16384, 65536, 262144, 1048576}

var chunkPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, bucketSizes[len(bucketSizes)-1])
	},
}

// FIFO is a bounded, growable byte queue used to absorb an incoming byte
// stream (an io.Reader supplied by the caller, typically fed by the
// out-of-scope cryptographic layer) while the version-file writer drains it
// in fixed-size chunks. Unlike a plain bytes.Buffer it never needs to
// reallocate its backing array past Capacity; Write blocks the logical
// caller (by returning io.ErrShortWrite) once that capacity is reached so a slow
// writer applies back-pressure instead of buffering unboundedly.
type FIFO struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
}

// NewFIFO creates a FIFO with the given maximum buffered byte capacity. A
// non-positive capacity means unbounded.
func NewFIFO(capacity int) *FIFO {
	return &FIFO{capacity: capacity}
}

// Len returns the number of buffered, unread bytes.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Write appends p to the buffer. It returns io.ErrShortWrite if appending
// would exceed Capacity.
func (f *FIFO) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capacity > 0 && len(f.buf)+len(p) > f.capacity {
		return 0, io.ErrShortWrite
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// TakeUpTo removes and returns up to n bytes from the front of the buffer.
// The returned slice is owned by the caller.
func (f *FIFO) TakeUpTo(n int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.buf) {
		n = len(f.buf)
	}
	out := make([]byte, n)
	copy(out, f.buf[:n])
	f.buf = f.buf[n:]
	return out
}

// DrainAll empties the buffer and returns everything it held.
func (f *FIFO) DrainAll() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.buf
	f.buf = nil
	return out
}

// GetChunk returns a pooled scratch buffer of at least size bytes; callers
// must return it with PutChunk.
func GetChunk(size int) []byte {
	buf := chunkPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

// PutChunk returns a scratch buffer obtained from GetChunk to the pool.
func PutChunk(buf []byte) {
	if buf == nil {
		return
	}
	chunkPool.Put(buf[:0]) //nolint:staticcheck // sync.Pool.Put requires interface{}
}
