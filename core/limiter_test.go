package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Bounded(t *testing.T) {
	l := NewLimiter(1)
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, l.InFlight())
	assert.Equal(t, 0, l.Remaining())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Equal(t, 0, l.InFlight())

	again, err := l.Acquire(context.Background())
	require.NoError(t, err)
	again()
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 10; i++ {
		_, err := l.Acquire(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 10, l.InFlight())
	assert.Equal(t, -1, l.Remaining())
}
