package upload

import (
	"sync"
	"time"
)

// ByteRing is the bounded byte queue named in §3's UploadContext: a true
// ring of bytes with copy-in/copy-out semantics, not a channel of chunk
// objects, per the design notes' call for "a bounded byte queue". Single
// producer, single consumer.
type ByteRing struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf          []byte
	head, tail   int
	count        int
	closed       bool
}

// NewByteRing allocates a ring of the given capacity in bytes.
func NewByteRing(capacity int) *ByteRing {
	r := &ByteRing{buf: make([]byte, capacity)}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	return r
}

// Cap returns the ring's total capacity in bytes.
func (r *ByteRing) Cap() int {
	return len(r.buf)
}

// Push copies all of data into the ring, blocking while the ring is full
// (the producer suspension point named in §5). It returns ErrRingClosed if
// the ring is closed before all of data has been pushed.
func (r *ByteRing) Push(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(data) > 0 {
		for r.count == len(r.buf) && !r.closed {
			r.notFull.Wait()
		}
		if r.closed {
			return ErrRingClosed
		}

		free := len(r.buf) - r.count
		n := len(data)
		if n > free {
			n = free
		}
		for i := 0; i < n; i++ {
			r.buf[(r.tail+i)%len(r.buf)] = data[i]
		}
		r.tail = (r.tail + n) % len(r.buf)
		r.count += n
		data = data[n:]
		r.notEmpty.Signal()
	}
	return nil
}

// PopTimeout copies up to len(out) bytes out of the ring into out, blocking
// until at least one byte is available, the ring is closed, or timeout
// elapses — the consumer suspension point named in §5. It returns the
// number of bytes copied, which is 0 on a timeout with nothing available.
func (r *ByteRing) PopTimeout(out []byte, timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 && !r.closed {
		timer := time.AfterFunc(timeout, func() {
			r.mu.Lock()
			r.notEmpty.Broadcast()
			r.mu.Unlock()
		})
		r.notEmpty.Wait()
		timer.Stop()
	}

	return r.popLocked(out)
}

// PopNoWait copies up to len(out) bytes without blocking, for the final
// drain after input_done has been observed.
func (r *ByteRing) PopNoWait(out []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.popLocked(out)
}

func (r *ByteRing) popLocked(out []byte) int {
	n := r.count
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	if n > 0 {
		r.notFull.Signal()
	}
	return n
}

// Empty reports whether the ring currently holds no bytes.
func (r *ByteRing) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

// Close wakes any blocked Push/PopTimeout callers. Push after Close fails;
// bytes already in the ring remain poppable.
func (r *ByteRing) Close() {
	r.mu.Lock()
	r.closed = true
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()
}
