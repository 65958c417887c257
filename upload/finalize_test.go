package upload

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/overlay"
)

func TestStageAndFinalize_SuccessRenamesIntoPlace(t *testing.T) {
	fs := overlay.NewMemory()
	p, err := New()
	require.NoError(t, err)

	err = StageAndFinalize(fs, StagingPath("/hello.txt"), "/hello.txt", func(w io.Writer) error {
		return p.RunRaw(context.Background(), bytes.NewReader([]byte("HELLO\n")), 6, w)
	})
	require.NoError(t, err)

	r, err := fs.OpenRead("/hello.txt")
	require.NoError(t, err)
	defer r.Close()

	_, err = fs.Stat(StagingPath("/hello.txt"))
	assert.Error(t, err, "the .part file must not survive a successful upload")
}

func TestStageAndFinalize_FailureLeavesNoPartFile(t *testing.T) {
	fs := overlay.NewMemory()
	p, err := New()
	require.NoError(t, err)

	err = StageAndFinalize(fs, StagingPath("/bad.txt"), "/bad.txt", func(w io.Writer) error {
		return p.RunRaw(context.Background(), bytes.NewReader(nil), 0, w)
	})
	require.Error(t, err)

	_, statErr := fs.Stat(StagingPath("/bad.txt"))
	assert.Error(t, statErr, "no .part file must leak after a failed upload")
	_, statErr = fs.Stat("/bad.txt")
	assert.Error(t, statErr, "no final file must exist after a failed upload")
}
