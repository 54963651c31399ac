package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	err := p.Do(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	})

	assert.EqualError(t, err, "still broken")
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}

	sentinel := errors.New("bad request")
	err := p.Do(context.Background(), func() error {
		attempts++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	p := Policy{MaxAttempts: 10, Delay: 50 * time.Millisecond}

	err := p.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestZeroPolicySingleAttempt(t *testing.T) {
	attempts := 0
	var p Policy

	err := p.Do(context.Background(), func() error {
		attempts++
		return errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
