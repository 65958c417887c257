package arbiter

import (
	"context"
	"encoding/binary"
	"strings"
	"time"

	"github.com/yarrco/ewmill/opkind"
	"github.com/yarrco/ewmill/overlay"
)

const (
	selfTestFile    = "/.sdtest.tmp"
	selfTestSeed    = 0xA5A5F00D
	selfTestBufSize = 64 * 1024
)

// SelfTestResult reports the write/read throughput of one self-test run,
// mirroring sdcard_run_self_test's "SDTEST PASS size=... write=... read=..."
// log line.
type SelfTestResult struct {
	SizeMB      int     `json:"size_mb"`
	WriteKBPerS float64 `json:"write_kb_s"`
	ReadKBPerS  float64 `json:"read_kb_s"`
}

// SelfTest writes sizeMB of a seeded pattern to a temp file on the mounted
// overlay, times the write, reads it back verifying every byte, times the
// read, deletes the temp file, and reports both throughputs. Only one
// self-test may run at a time; TryRequest refuses attach/detach while it's
// in progress, per the SelfTestRunning flag it shares with the transition
// guard. It also takes the FsOpLock for its duration, the same guard a file
// mutation holds, so a self-test and an upload can never race the same
// mount.
func (a *Arbiter) SelfTest(ctx context.Context, sizeMB int) (*SelfTestResult, error) {
	if sizeMB <= 0 {
		sizeMB = 10
	}
	if a.CurrentMode() == ModeUsbExposed {
		return nil, opkind.New(opkind.Busy)
	}
	if !a.selfTestRunning.CompareAndSwap(false, true) {
		return nil, opkind.New(opkind.Busy)
	}
	defer a.selfTestRunning.Store(false)

	if !a.fsLock.TryAcquire() {
		return nil, opkind.New(opkind.FileopInProgress)
	}
	defer a.fsLock.Release()

	path := strings.TrimSuffix(a.mountPoint, "/") + selfTestFile

	return WithAppFS(a, func(fs overlay.FilesystemOverlay) (*SelfTestResult, error) {
		return runSelfTest(ctx, fs, path, sizeMB)
	})
}

func runSelfTest(ctx context.Context, fs overlay.FilesystemOverlay, path string, sizeMB int) (*SelfTestResult, error) {
	totalBytes := int64(sizeMB) * 1024 * 1024
	buf := make([]byte, selfTestBufSize)
	expect := make([]byte, selfTestBufSize)

	writeStart := time.Now()
	if err := func() error {
		w, err := fs.OpenWrite(path)
		if err != nil {
			return opkind.NewFromError(opkind.OpenFail, err)
		}
		defer w.Close()

		var written int64
		for written < totalBytes {
			if err := ctx.Err(); err != nil {
				return opkind.NewFromError(opkind.WriteFail, err)
			}
			chunk := buf
			if remain := totalBytes - written; remain < int64(len(chunk)) {
				chunk = chunk[:remain]
			}
			fillPattern(chunk, selfTestSeed, written)
			n, err := w.Write(chunk)
			if err != nil {
				return opkind.NewFromError(opkind.WriteFail, err)
			}
			written += int64(n)
		}
		if err := w.Sync(); err != nil {
			return opkind.NewFromError(opkind.WriteFail, err)
		}
		return nil
	}(); err != nil {
		_ = fs.Unlink(path)
		return nil, err
	}
	writeElapsed := time.Since(writeStart)

	readStart := time.Now()
	if err := func() error {
		r, err := fs.OpenRead(path)
		if err != nil {
			return opkind.NewFromError(opkind.OpenFail, err)
		}
		defer r.Close()

		var read int64
		for read < totalBytes {
			if err := ctx.Err(); err != nil {
				return opkind.NewFromError(opkind.RecvFail, err)
			}
			chunk := buf
			if remain := totalBytes - read; remain < int64(len(chunk)) {
				chunk = chunk[:remain]
			}
			n, err := r.Read(chunk)
			if n > 0 {
				fillPattern(expect[:n], selfTestSeed, read)
				for i := 0; i < n; i++ {
					if chunk[i] != expect[i] {
						return opkind.New(opkind.RecvFail)
					}
				}
				read += int64(n)
			}
			if err != nil {
				if read < totalBytes {
					return opkind.NewFromError(opkind.RecvFail, err)
				}
				break
			}
		}
		return nil
	}(); err != nil {
		_ = fs.Unlink(path)
		return nil, err
	}
	readElapsed := time.Since(readStart)

	_ = fs.Unlink(path)

	kbTotal := float64(totalBytes) / 1024.0
	return &SelfTestResult{
		SizeMB:      sizeMB,
		WriteKBPerS: kbTotal / writeElapsed.Seconds(),
		ReadKBPerS:  kbTotal / readElapsed.Seconds(),
	}, nil
}

// fillPattern reproduces the original firmware's deterministic test pattern:
// a 4-byte word per position derived from the seed and absolute offset, so
// a read-back can be verified without keeping the write buffer around.
func fillPattern(buf []byte, seed uint32, offset int64) {
	for i := 0; i < len(buf); i += 4 {
		v := seed ^ uint32((offset+int64(i))*0x45d9f3b)
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], v)
		n := 4
		if i+4 > len(buf) {
			n = len(buf) - i
		}
		copy(buf[i:i+n], word[:n])
	}
}
