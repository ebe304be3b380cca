package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := WrapTransient(ErrConnectionLost, "receiver", "pull", "read sample")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrConnectionLost))
	assert.Contains(t, err.Error(), "receiver.pull")
	assert.Contains(t, err.Error(), "read sample failed")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(ErrPullTimeout, "c", "m", "a"), ErrorTransient},
		{"invalid", WrapInvalid(ErrInvalidSource, "c", "m", "a"), ErrorInvalid},
		{"fatal", WrapFatal(ErrSourceGone, "c", "m", "a"), ErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassPredicates(t *testing.T) {
	transient := WrapTransient(ErrConnectionTimeout, "c", "m", "a")
	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
	assert.False(t, IsInvalid(transient))

	fatal := WrapFatal(ErrSourceGone, "c", "m", "a")
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))
}

func TestSentinelsClassifyWithoutWrapping(t *testing.T) {
	assert.True(t, IsTransient(ErrPullTimeout))
	assert.True(t, IsTransient(ErrDiscovery))
	assert.True(t, IsFatal(ErrSourceGone))
	assert.True(t, IsInvalid(ErrSampleFormat))
	assert.True(t, IsInvalid(ErrEmptySample))
}

func TestClassifyUnwrapsNestedErrors(t *testing.T) {
	inner := WrapFatal(ErrSourceGone, "provider", "open", "lookup")
	outer := fmt.Errorf("connect: %w", inner)
	assert.Equal(t, ErrorFatal, Classify(outer))
	assert.True(t, IsFatal(outer))
}

func TestTransientPatternMatching(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("service temporarily unavailable")))
	assert.False(t, IsTransient(stderrors.New("parse failure")))
}

func TestUnknownErrorsDefaultToTransient(t *testing.T) {
	// Unknown errors classify transient so callers err on the side of retry.
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("parse failure")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
}

func TestShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.True(t, cfg.ShouldRetry(ErrPullTimeout, 1))
	assert.False(t, cfg.ShouldRetry(ErrPullTimeout, cfg.MaxRetries))
	assert.False(t, cfg.ShouldRetry(nil, 0))
	assert.False(t, cfg.ShouldRetry(WrapInvalid(ErrInvalidSource, "c", "m", "a"), 0))
}

func TestToRetryConfig(t *testing.T) {
	rc := RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
	cfg := rc.ToRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts, "retries convert to total attempts")
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.True(t, cfg.AddJitter)
}
