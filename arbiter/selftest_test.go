package arbiter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfTest_PassesAgainstMemoryOverlay(t *testing.T) {
	a := newTestArbiter(t)
	require.NoError(t, a.TryRequest(context.Background(), ModeAppMounted))

	result, err := a.SelfTest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SizeMB)
	assert.Greater(t, result.WriteKBPerS, 0.0)
	assert.Greater(t, result.ReadKBPerS, 0.0)
}

func TestSelfTest_RefusedWhenNotMounted(t *testing.T) {
	a := newTestArbiter(t)

	_, err := a.SelfTest(context.Background(), 1)
	require.Error(t, err)
}

func TestSelfTest_RefusedWhileFileopInProgress(t *testing.T) {
	a := newTestArbiter(t)
	require.NoError(t, a.TryRequest(context.Background(), ModeAppMounted))

	require.True(t, a.fsLock.TryAcquire())
	defer a.fsLock.Release()

	_, err := a.SelfTest(context.Background(), 1)
	require.Error(t, err)
}

func TestSelfTest_BlocksAttachWhileRunning(t *testing.T) {
	a := newTestArbiter(t)
	require.NoError(t, a.TryRequest(context.Background(), ModeAppMounted))

	a.selfTestRunning.Store(true)
	defer a.selfTestRunning.Store(false)

	err := a.TryRequest(context.Background(), ModeUsbExposed)
	require.Error(t, err)
}
