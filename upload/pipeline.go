// Package upload implements the UploadPipeline: a producer that scans
// multipart boundaries (or streams a raw body) into a bounded byte ring,
// and a dedicated consumer goroutine that writes large chunks to a staging
// file. Grounded on the original firmware's upload_ctx_t/upload_writer_task
// pairing, translated from a FreeRTOS ring buffer + pinned task into a
// golang.org/x/sync/errgroup pair over a ByteRing.
package upload

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"github.com/yarrco/ewmill/opkind"
)

// Stats mirrors the counters the UploadContext carries: bytes_in, bytes_out,
// chunks.
type Stats struct {
	BytesIn  atomic.Uint64
	BytesOut atomic.Uint64
	Chunks   atomic.Uint64
}

// Pipeline is one upload's producer/consumer pair plus its ring. A new
// Pipeline is created per upload, matching the source spawning a writer
// task per upload rather than reusing a pool.
type Pipeline struct {
	ring      *ByteRing
	inputDone atomic.Bool
	stats     Stats
}

// New allocates a Pipeline, preferring a RingSizeDefault ring and falling
// back to RingSizeFallback, per the ring-sizing rule in §4.4. If neither can
// be allocated it returns a NoMem OpError.
func New() (*Pipeline, error) {
	ring, err := newRingWithFallback()
	if err != nil {
		return nil, err
	}
	return &Pipeline{ring: ring}, nil
}

// newRingWithFallback tries RingSizeDefault first, then RingSizeFallback,
// matching the source's xRingbufferCreateWithCaps retry. A failed
// allocation panics inside make(); tryAlloc recovers so the caller can fall
// back instead of crashing the handler goroutine.
func newRingWithFallback() (*ByteRing, error) {
	if ring := tryAlloc(RingSizeDefault); ring != nil {
		return ring, nil
	}
	if ring := tryAlloc(RingSizeFallback); ring != nil {
		return ring, nil
	}
	return nil, opkind.New(opkind.NoMem)
}

func tryAlloc(size int) (ring *ByteRing) {
	defer func() {
		if recover() != nil {
			ring = nil
		}
	}()
	return NewByteRing(size)
}

// Stats returns a snapshot of the running byte/chunk counters.
func (p *Pipeline) Stats() (bytesIn, bytesOut, chunks uint64) {
	return p.stats.BytesIn.Load(), p.stats.BytesOut.Load(), p.stats.Chunks.Load()
}

// consume is the dedicated writer goroutine: it blocks on the ring with a
// 200ms timeout and loops, checking input_done, writing received chunks to
// dst with large buffered writes.
func (p *Pipeline) consume(dst io.Writer) error {
	buf := make([]byte, RecvBufSize)
	for {
		n := p.ring.PopTimeout(buf, 200*time.Millisecond)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return opkind.NewFromError(opkind.WriteFail, err)
			}
			p.stats.BytesOut.Add(uint64(n))
			p.stats.Chunks.Add(1)
			continue
		}
		if p.inputDone.Load() && p.ring.Empty() {
			return nil
		}
	}
}

// runPair runs producer and consumer concurrently. The first of them to
// return a non-nil error governs, per §7's propagation policy; whichever
// side errors closes the ring so the other side unblocks and exits instead
// of hanging — the producer's blocked Push returns ErrRingClosed, and the
// consumer's drain loop simply sees input_done.
func (p *Pipeline) runPair(produce func() error, dst io.Writer) error {
	g := new(errgroup.Group)

	g.Go(func() error {
		err := produce()
		p.inputDone.Store(true)
		if err != nil {
			p.ring.Close()
		}
		return err
	})

	g.Go(func() error {
		err := p.consume(dst)
		if err != nil {
			p.ring.Close()
		}
		return err
	})

	return g.Wait()
}

// RunRaw streams a Content-Length-bounded raw body through the ring to dst.
// An empty body is rejected before the pipeline even starts, per "Empty
// body in raw mode -> BadRequest NoBody".
func (p *Pipeline) RunRaw(ctx context.Context, body io.Reader, contentLength int64, dst io.Writer) error {
	if contentLength == 0 {
		return opkind.New(opkind.NoBody)
	}

	return p.runPair(func() error {
		return p.produceRaw(ctx, body, contentLength)
	}, dst)
}

func (p *Pipeline) produceRaw(ctx context.Context, body io.Reader, contentLength int64) error {
	buf := make([]byte, RecvBufSize)
	var remaining int64 = contentLength

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return opkind.NewFromError(opkind.RecvFail, err)
		}

		toRead := int64(len(buf))
		if remaining < toRead {
			toRead = remaining
		}
		n, err := body.Read(buf[:toRead])
		if n > 0 {
			p.stats.BytesIn.Add(uint64(n))
			if pushErr := p.ring.Push(buf[:n]); pushErr != nil {
				return pushErr
			}
			remaining -= int64(n)
		}
		if err != nil {
			if err == io.EOF {
				if remaining > 0 {
					return opkind.New(opkind.RecvFail)
				}
				break
			}
			return opkind.NewFromError(opkind.RecvFail, err)
		}
	}
	return nil
}

// RunMultipart scans the first filename-bearing part's header, then streams
// its body through the ring to dst until the boundary delimiter is found.
// dst is opened by the caller before the filename is known. RunMultipart
// returns the raw filename string from the part header; sanitizing it is
// left to the caller.
func (p *Pipeline) RunMultipart(ctx context.Context, body io.Reader, boundary string, dst io.Writer) (filename string, err error) {
	marker := boundaryMarker(boundary)

	header, headerTail, err := p.readHeader(ctx, body)
	if err != nil {
		return "", err
	}

	name, ok := extractFilename(header)
	if !ok {
		return "", opkind.New(opkind.NoFilename)
	}

	runErr := p.runPair(func() error {
		return p.produceMultipartBody(ctx, body, marker, headerTail)
	}, dst)
	if runErr != nil {
		return "", runErr
	}
	return name, nil
}

// readHeader accumulates bytes from body until the blank line terminating
// the part header is found, capped at HeaderBufSize per "Header too large".
// It returns the header bytes and any body bytes already read past the
// header terminator, to be fed into the boundary scanner.
func (p *Pipeline) readHeader(ctx context.Context, body io.Reader) (header []byte, tail []byte, err error) {
	buf := make([]byte, 0, HeaderBufSize)
	chunk := make([]byte, RecvBufSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, opkind.NewFromError(opkind.RecvFail, err)
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			p.stats.BytesIn.Add(uint64(n))
			buf = append(buf, chunk[:n]...)
			if end, markLen, found := findHeaderEnd(buf); found {
				if end+markLen >= HeaderBufSize {
					return nil, nil, opkind.New(opkind.HeaderTooLarge)
				}
				return buf[:end], buf[end+markLen:], nil
			}
			if len(buf) >= HeaderBufSize-1 {
				return nil, nil, opkind.New(opkind.HeaderTooLarge)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil, nil, opkind.New(opkind.BadMultipart)
			}
			return nil, nil, opkind.NewFromError(opkind.RecvFail, readErr)
		}
	}
}

// produceMultipartBody streams body bytes into the ring until marker is
// found, carrying the last len(marker)-1 bytes as a tail between iterations
// so the boundary can never be split across two pushes.
func (p *Pipeline) produceMultipartBody(ctx context.Context, body io.Reader, marker []byte, initial []byte) error {
	pending := append([]byte(nil), initial...)
	chunk := make([]byte, RecvBufSize)
	tailLen := len(marker) - 1

	for {
		if err := ctx.Err(); err != nil {
			return opkind.NewFromError(opkind.RecvFail, err)
		}

		if idx := findSeq(pending, marker); idx >= 0 {
			return p.ring.Push(pending[:idx])
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			p.stats.BytesIn.Add(uint64(n))
			pending = append(pending, chunk[:n]...)
		}

		if idx := findSeq(pending, marker); idx >= 0 {
			return p.ring.Push(pending[:idx])
		}

		if len(pending) > tailLen {
			safe := len(pending) - tailLen
			if err := p.ring.Push(pending[:safe]); err != nil {
				return err
			}
			pending = pending[safe:]
		}

		if readErr != nil {
			if readErr == io.EOF {
				return opkind.New(opkind.BadMultipart)
			}
			return opkind.NewFromError(opkind.RecvFail, readErr)
		}
	}
}
