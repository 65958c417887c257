package fsoplock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_SecondAttemptFails(t *testing.T) {
	l := New()
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire(), "a second try-acquire must fail while held")
	l.Release()
	assert.True(t, l.TryAcquire(), "must be acquirable again after release")
}

func TestHeld_DoesNotItselfAcquire(t *testing.T) {
	l := New()
	assert.False(t, l.Held())
	require.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	l.Release()
	assert.False(t, l.Held())
}

func TestWithLock_RunsOnlyWhenAcquired(t *testing.T) {
	l := New()
	ran := false
	acquired, err := l.WithLock(context.Background(), func() error {
		ran = true
		return nil
	})
	require.True(t, acquired)
	require.True(t, ran)
	require.NoError(t, err)

	require.True(t, l.TryAcquire())
	ran = false
	acquired, err = l.WithLock(context.Background(), func() error {
		ran = true
		return nil
	})
	assert.False(t, acquired)
	assert.False(t, ran)
	assert.NoError(t, err)
}
