package bambutunnel

// Sample - one complete frame handed to the caller.
// Buffer is owned by the session's Allocator and always has len == cap.
type Sample struct {
	Track int32
	Flags int32
	// always 0, the device carries no timestamps
	DecodeTime uint64
	Buffer     []byte
}

// Allocator - source of sample buffers
type Allocator interface {
	// Alloc returns a zero length slice with capacity exactly size
	Alloc(size int) []byte
	// Free takes back a buffer returned by Alloc
	Free(buf []byte)
}

// HeapAllocator - buffers on the Go heap, Free leaves them to the GC
type HeapAllocator struct{}

// Alloc - make([]byte, 0, size)
func (HeapAllocator) Alloc(size int) []byte {
	return make([]byte, 0, size)
}

// Free - no-op
func (HeapAllocator) Free([]byte) {}

// release - give buf back to alloc, a buffer that is not full was tampered with
func release(alloc Allocator, buf []byte) {
	if buf == nil {
		return
	}
	if len(buf) != cap(buf) {
		panic("bambutunnel: released sample buffer with len != cap")
	}
	alloc.Free(buf)
}

// sameBuffer - a and b share their backing array start
func sameBuffer(a, b []byte) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return false
	}
	return &a[:1][0] == &b[:1][0]
}
