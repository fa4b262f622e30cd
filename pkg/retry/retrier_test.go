package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRetriable = errors.New("transient")
var errFatal = errors.New("fatal")

func TestExponentialBackoffDelayFormula(t *testing.T) {
	e := NewExponentialBackoff()
	e.Fuzz = 0
	e.rand = func() float64 { return 0.5 }

	d, ok := e.Delay(0)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), d) // base * (2^0 - 1) = 0

	d, ok = e.Delay(3)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d) // base * (2^3 - 1) = 7s

	d, ok = e.Delay(9) // clamped to ceiling=7
	require.True(t, ok)
	assert.Equal(t, 127*time.Second, d) // base * (2^7 - 1) = 127s
}

func TestExponentialBackoffStopsAfterMaxTries(t *testing.T) {
	e := NewExponentialBackoff()
	e.MaxTries = 3

	_, ok := e.Delay(2)
	assert.True(t, ok)
	_, ok = e.Delay(3)
	assert.False(t, ok)
}

func TestRetrierRetriesUntilSuccess(t *testing.T) {
	r := New(func(err error) bool { return errors.Is(err, errRetriable) })
	r.Strategy = &Counting{MaxTries: 5}

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errRetriable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierStopsOnNonRetriableError(t *testing.T) {
	r := New(func(err error) bool { return errors.Is(err, errRetriable) })

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
}

func TestRetrierGivesUpAfterMaxTries(t *testing.T) {
	r := New(func(err error) bool { return true })
	r.Strategy = &Counting{MaxTries: 3}

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return errRetriable
	})

	// MaxTries bounds the number of retries *after* the first attempt, so
	// three retries plus the initial attempt is four calls total.
	assert.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestWrapDecoratesOperation(t *testing.T) {
	r := New(func(err error) bool { return errors.Is(err, errRetriable) })
	r.Strategy = &Counting{MaxTries: 3}

	attempts := 0
	wrapped := r.Wrap(func() error {
		attempts++
		if attempts < 2 {
			return errRetriable
		}
		return nil
	})

	assert.NoError(t, wrapped())
	assert.Equal(t, 2, attempts)
}
