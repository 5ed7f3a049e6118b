package reasoner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/repocard/internal/cost"
	"github.com/sells-group/repocard/internal/resilience"
)

func noSleepRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: attempts,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(int, error) {},
	}
}

func effortIs(e Effort) any {
	return mock.MatchedBy(func(r Request) bool { return r.Effort == e })
}

func TestInvoke_SuccessRecordsUsage(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, effortIs(EffortHigh)).Return(&Response{
		Content: `{"facts": []}`,
		Model:   "m",
		Usage:   Usage{InputTokens: 1_000_000, OutputTokens: 500_000},
	}, nil).Once()

	costs := cost.NewCalculator(cost.Rates{"mock": {"m": {Input: 1, Output: 2}}})
	c := NewClient(p, Config{Retry: noSleepRetry(2)}, nil, costs, nil)

	resp, effort, err := c.Invoke(context.Background(), Request{Phase: "extract", Effort: EffortHigh})
	require.NoError(t, err)
	assert.Equal(t, EffortHigh, effort)
	assert.Equal(t, `{"facts": []}`, resp.Content)

	u := c.Usage()
	assert.Equal(t, 1, u.Calls)
	assert.Equal(t, int64(1_000_000), u.InputTokens)
	assert.InDelta(t, 2.0, u.EstimatedCostUSD, 1e-9)
	p.AssertExpectations(t)
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, effortIs(EffortMedium)).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 503)).Once()
	p.On("Complete", mock.Anything, effortIs(EffortMedium)).
		Return(&Response{Content: "{}"}, nil).Once()

	c := NewClient(p, Config{Retry: noSleepRetry(3)}, nil, nil, nil)
	_, effort, err := c.Invoke(context.Background(), Request{Effort: EffortMedium})
	require.NoError(t, err)
	assert.Equal(t, EffortMedium, effort)
	p.AssertNumberOfCalls(t, "Complete", 2)
}

func TestInvoke_DowngradesEffortOnFailure(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, effortIs(EffortHigh)).
		Return(nil, errors.New("invalid request")).Once()
	p.On("Complete", mock.Anything, effortIs(EffortMedium)).
		Return(&Response{Content: "{}"}, nil).Once()

	c := NewClient(p, Config{Retry: noSleepRetry(3)}, nil, nil, nil)
	_, effort, err := c.Invoke(context.Background(), Request{Effort: EffortHigh})
	require.NoError(t, err)
	assert.Equal(t, EffortMedium, effort)
	p.AssertExpectations(t)
}

func TestInvoke_ExhaustsLadder(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("down"), 502))

	c := NewClient(p, Config{Retry: noSleepRetry(2)}, nil, nil, nil)
	_, _, err := c.Invoke(context.Background(), Request{Phase: "reason", Effort: EffortMedium})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	p.AssertNumberOfCalls(t, "Complete", 4)
	assert.Zero(t, c.Usage().Calls)
}

func TestInvoke_OpenBreakerShortCircuits(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("down"), 503))

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := NewClient(p, Config{Retry: noSleepRetry(3)}, breaker, nil, nil)
	_, _, err := c.Invoke(context.Background(), Request{Effort: EffortLow})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	p.AssertNumberOfCalls(t, "Complete", 1)
}

func TestInvoke_CallTimeoutIsRetried(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded).Twice()
	p.On("Complete", mock.Anything, mock.Anything).Return(&Response{Content: "{}"}, nil).Once()

	c := NewClient(p, Config{CallTimeout: time.Millisecond, Retry: noSleepRetry(3)}, nil, nil, nil)
	_, _, err := c.Invoke(context.Background(), Request{Effort: EffortLow})
	require.NoError(t, err)
	p.AssertNumberOfCalls(t, "Complete", 3)
}

func TestInvoke_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &mockProvider{}
	p.On("Complete", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	c := NewClient(p, Config{Retry: noSleepRetry(3)}, nil, nil, nil)
	_, _, err := c.Invoke(ctx, Request{Effort: EffortHigh})
	require.Error(t, err)
	p.AssertNumberOfCalls(t, "Complete", 1)
}

func TestInvoke_LogsThroughGivenLogger(t *testing.T) {
	p := &mockProvider{}
	p.On("Complete", mock.Anything, effortIs(EffortHigh)).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()
	p.On("Complete", mock.Anything, effortIs(EffortMedium)).
		Return(&Response{Content: "{}", Model: "m"}, nil).Once()

	core, logs := observer.New(zapcore.InfoLevel)
	retry := resilience.RetryConfig{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	c := NewClient(p, Config{Retry: retry}, nil, nil, zap.New(core))

	_, effort, err := c.Invoke(context.Background(), Request{Phase: "extract", Effort: EffortHigh})
	require.NoError(t, err)
	assert.Equal(t, EffortMedium, effort)

	assert.Equal(t, 1, logs.FilterMessage("retrying operation").Len())
	assert.Equal(t, 1, logs.FilterMessage("reasoner: invocation failed").Len())
	costLogs := logs.FilterMessage("cost attribution").All()
	require.Len(t, costLogs, 1)
	assert.Equal(t, "extract", costLogs[0].ContextMap()["phase"])
	assert.Equal(t, "medium", costLogs[0].ContextMap()["effort"])
}
