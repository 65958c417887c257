package upload

import "errors"

// ErrRingClosed is returned by ByteRing.Push when the ring is closed while
// a push is blocked or attempted.
var ErrRingClosed = errors.New("upload: ring closed")
