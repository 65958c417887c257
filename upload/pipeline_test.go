package upload

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRaw_CopiesBodyExactly(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	body := bytes.NewReader([]byte("HELLO\n"))
	var dst bytes.Buffer

	require.NoError(t, p.RunRaw(context.Background(), body, 6, &dst))
	assert.Equal(t, "HELLO\n", dst.String())

	bytesIn, bytesOut, chunks := p.Stats()
	assert.EqualValues(t, 6, bytesIn)
	assert.EqualValues(t, 6, bytesOut)
	assert.GreaterOrEqual(t, chunks, uint64(1))
}

func TestRunRaw_EmptyBodyRejected(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	var dst bytes.Buffer
	err = p.RunRaw(context.Background(), bytes.NewReader(nil), 0, &dst)
	require.Error(t, err)
}

func TestRunMultipart_SimplePart(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	raw := "Content-Disposition: form-data; name=\"file\"; filename=\"a.bin\"\r\n\r\nAB\r\n--BDY--\r\n"
	var dst bytes.Buffer

	name, err := p.RunMultipart(context.Background(), bytes.NewReader([]byte(raw)), "BDY", &dst)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", name)
	assert.Equal(t, "AB", dst.String())
}

// splitReader serves its bytes in caller-provided chunks, letting a test
// force a boundary-straddling split exactly where it wants one.
type splitReader struct {
	chunks [][]byte
	i      int
}

func (r *splitReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	chunk := r.chunks[r.i]
	r.i++
	n := copy(p, chunk)
	return n, nil
}

func TestRunMultipart_BoundaryStraddlingBytes(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	header := "Content-Disposition: form-data; name=\"file\"; filename=\"a.bin\"\r\n\r\n"
	reader := &splitReader{chunks: [][]byte{
		[]byte(header + "A"),
		[]byte("B\r\n--BDY--\r\n"),
	}}

	var dst bytes.Buffer
	name, err := p.RunMultipart(context.Background(), reader, "BDY", &dst)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", name)
	assert.Equal(t, "AB", dst.String())
}

func TestRunMultipart_MissingFilename(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	raw := "Content-Disposition: form-data; name=\"file\"\r\n\r\nAB\r\n--BDY--\r\n"
	var dst bytes.Buffer
	_, err = p.RunMultipart(context.Background(), bytes.NewReader([]byte(raw)), "BDY", &dst)
	require.Error(t, err)
}

func TestByteRing_PopTimeoutReturnsZeroWhenEmpty(t *testing.T) {
	r := NewByteRing(16)
	out := make([]byte, 4)
	start := time.Now()
	n := r.PopTimeout(out, 50*time.Millisecond)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestByteRing_PushThenPopRoundTrips(t *testing.T) {
	r := NewByteRing(8)
	require.NoError(t, r.Push([]byte("abcd")))
	out := make([]byte, 4)
	n := r.PopTimeout(out, time.Second)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(out))
}

func TestByteRing_WrapsAroundCorrectly(t *testing.T) {
	r := NewByteRing(4)
	require.NoError(t, r.Push([]byte("ab")))
	out := make([]byte, 2)
	require.Equal(t, 2, r.PopTimeout(out, time.Second))
	require.NoError(t, r.Push([]byte("cdef")))
	out2 := make([]byte, 4)
	require.Equal(t, 4, r.PopTimeout(out2, time.Second))
	assert.Equal(t, "cdef", string(out2))
}
