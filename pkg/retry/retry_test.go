package retry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsImmediately(t *testing.T) {
	attempts, err := Retry(func() error { return nil }, Limit(3))
	require.NoError(t, err)
	assert.EqualValues(t, 1, attempts)
}

func TestRetry_Limit(t *testing.T) {
	cause := errors.New("transient")

	var calls int
	attempts, err := Retry(
		func() error {
			calls++
			return cause
		},
		Limit(3),
	)
	assert.Equal(t, cause, err)
	assert.EqualValues(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetry_EventualSuccess(t *testing.T) {
	cause := errors.New("transient")

	var calls int
	attempts, err := Retry(
		func() error {
			calls++
			if calls < 3 {
				return cause
			}
			return nil
		},
		Limit(5),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 3, attempts)
}

func TestRetry_NonRetriableErrors(t *testing.T) {
	fatal := errors.New("fatal")

	var calls int
	_, err := Retry(
		func() error {
			calls++
			return errors.Wrap(fatal, "wrapped")
		},
		NonRetriableErrors(fatal),
		Limit(5),
	)
	assert.Equal(t, fatal, errors.Cause(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriableErrors(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")

	var calls int
	_, err := Retry(
		func() error {
			calls++
			if calls == 1 {
				return transient
			}
			return fatal
		},
		RetriableErrors(transient),
	)
	assert.Equal(t, fatal, err)
	assert.Equal(t, 2, calls)
}

func TestLoop_StopsOnNonRetriable(t *testing.T) {
	stop := errors.New("stop")

	var calls int
	err := Loop(
		func() error {
			calls++
			if calls < 4 {
				return nil
			}
			return stop
		},
		NonRetriableErrors(stop),
	)
	assert.Equal(t, stop, err)
	assert.Equal(t, 4, calls)
}

func TestLoop_CounterResetsOnSuccess(t *testing.T) {
	transient := errors.New("transient")
	stop := errors.New("stop")

	// Successes between failures reset the attempt counter, so the limit
	// applies per failure streak rather than per loop lifetime.
	var calls int
	err := Loop(
		func() error {
			calls++
			switch calls {
			case 2, 4, 6:
				return transient
			case 8:
				return stop
			}
			return nil
		},
		NonRetriableErrors(stop),
		Limit(2),
	)
	assert.Equal(t, stop, err)
	assert.Equal(t, 8, calls)
}
