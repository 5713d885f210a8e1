package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type scriptedSubmitter struct {
	results []func() (domain.OrderResult, error)
	calls   int
	keys    []string
}

func (s *scriptedSubmitter) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.keys = append(s.keys, req.IdempotencyKey)
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func ok(orderID string, filled float64) func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) {
		return domain.OrderResult{Success: true, OrderID: orderID, FilledSizeUSD: filled}, nil
	}
}

func transient(msg string) func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) {
		return domain.OrderResult{}, &domain.SubmissionError{Transient: true, Err: errors.New(msg)}
	}
}

func fatal(msg string) func() (domain.OrderResult, error) {
	return func() (domain.OrderResult, error) {
		return domain.OrderResult{}, &domain.SubmissionError{Err: errors.New(msg)}
	}
}

func validRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Market:         "cond-1",
		AssetID:        "tok-1",
		Side:           domain.SideBuy,
		SizeUSD:        25,
		Price:          0.5,
		IdempotencyKey: "0xabc:0xdead",
	}
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestExecutor(sub domain.OrderSubmitter, retryLimit int) *Executor {
	e := NewExecutor(sub, retryLimit, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.SetSleep(noSleep)
	return e
}

func TestSubmitFilledFirstAttempt(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){ok("ord-1", 25)}}
	e := newTestExecutor(sub, 3)

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeFilled, out.Kind)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "ord-1", out.Result.OrderID)
}

func TestSubmitRetriesTransientThenFills(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){
		transient("timeout"),
		transient("rate limited"),
		ok("ord-2", 25),
	}}
	e := newTestExecutor(sub, 3)

	out := e.Submit(context.Background(), validRequest())
	require.Equal(t, domain.OutcomeFilled, out.Kind)
	assert.Equal(t, 3, out.Attempts)
}

func TestSubmitRetryBudgetIsLimitPlusOne(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){transient("timeout")}}
	e := newTestExecutor(sub, 3)

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 4, sub.calls)
}

func TestSubmitZeroRetryLimitSingleAttempt(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){transient("timeout")}}
	e := newTestExecutor(sub, 0)

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 1, sub.calls)
}

func TestSubmitFatalErrorNoRetry(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){fatal("invalid order")}}
	e := newTestExecutor(sub, 5)

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 1, sub.calls)
}

func TestSubmitVenueRejectionTerminal(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){
		func() (domain.OrderResult, error) {
			return domain.OrderResult{Success: false, Message: "market closed"}, nil
		},
	}}
	e := newTestExecutor(sub, 5)

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeRejected, out.Kind)
	assert.Equal(t, 1, sub.calls)
}

func TestSubmitReusesIdempotencyKey(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){
		transient("timeout"),
		transient("timeout"),
		ok("ord-3", 25),
	}}
	e := newTestExecutor(sub, 3)

	_ = e.Submit(context.Background(), validRequest())
	require.Len(t, sub.keys, 3)
	for _, k := range sub.keys {
		assert.Equal(t, "0xabc:0xdead", k)
	}
}

func TestSubmitExponentialBackoffDelays(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){transient("timeout")}}
	e := NewExecutor(sub, 3, 100*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var delays []time.Duration
	e.SetSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	_ = e.Submit(context.Background(), validRequest())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestSubmitContextCancelStopsRetries(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){transient("timeout")}}
	e := newTestExecutor(sub, 10)
	e.SetSleep(func(ctx context.Context, _ time.Duration) error { return context.Canceled })

	out := e.Submit(context.Background(), validRequest())
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.Equal(t, 1, sub.calls, "no further attempts after cancellation")
}

func TestSubmitInvalidRequestFailsWithoutCall(t *testing.T) {
	sub := &scriptedSubmitter{results: []func() (domain.OrderResult, error){ok("x", 1)}}
	e := newTestExecutor(sub, 3)

	req := validRequest()
	req.SizeUSD = -1
	out := e.Submit(context.Background(), req)
	assert.Equal(t, domain.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrInvalidOrder)
	assert.Equal(t, 0, sub.calls)
}

func TestDedupMarkSeen(t *testing.T) {
	d := NewDedup(time.Minute)
	ctx := context.Background()

	fresh, err := d.MarkSeen(ctx, "a:1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.MarkSeen(ctx, "a:1")
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = d.MarkSeen(ctx, "a:2")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(time.Nanosecond)
	ctx := context.Background()

	_, err := d.MarkSeen(ctx, "a:1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	fresh, err := d.MarkSeen(ctx, "a:1")
	require.NoError(t, err)
	assert.True(t, fresh, "expired key counts as new")
}
