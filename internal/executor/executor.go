package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Executor submits orders through an injected domain.OrderSubmitter, retrying
// transient failures with exponential backoff. The idempotency key on the
// request is identical across every attempt for the same order, so the venue
// can collapse retried submissions.
type Executor struct {
	submitter  domain.OrderSubmitter
	retryLimit int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewExecutor creates an Executor. retryLimit bounds transient retries, so an
// order is attempted at most retryLimit+1 times. baseDelay is the first retry
// delay, doubled on each subsequent retry.
func NewExecutor(submitter domain.OrderSubmitter, retryLimit int, baseDelay time.Duration, logger *slog.Logger) *Executor {
	if retryLimit < 0 {
		retryLimit = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Executor{
		submitter:  submitter,
		retryLimit: retryLimit,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
		logger:     logger.With(slog.String("component", "executor")),
	}
}

// SetSleep replaces the inter-attempt sleep function. Used by tests to avoid
// real delays.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit runs the full retry loop for one order and returns its terminal
// outcome. Fatal submission errors and venue rejections terminate
// immediately; transient errors are retried until the attempt budget is
// spent. Context cancellation abandons remaining retries after the current
// attempt completes.
func (e *Executor) Submit(ctx context.Context, req domain.OrderRequest) domain.OrderOutcome {
	if err := req.Validate(); err != nil {
		return domain.OrderOutcome{Kind: domain.OutcomeFailed, Err: err}
	}

	attemptID := uuid.New().String()
	log := e.logger.With(
		slog.String("market", req.Market),
		slog.String("side", string(req.Side)),
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.String("submission_id", attemptID),
	)

	delay := e.baseDelay
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= e.retryLimit; attempt++ {
		attempts = attempt + 1
		res, err := e.submitter.SubmitOrder(ctx, req)
		if err == nil {
			if !res.Success {
				log.Warn("order rejected by venue",
					slog.String("order_id", res.OrderID),
					slog.String("message", res.Message),
				)
				return domain.OrderOutcome{Kind: domain.OutcomeRejected, Result: res, Attempts: attempts}
			}
			log.Info("order filled",
				slog.String("order_id", res.OrderID),
				slog.Float64("filled_usd", res.FilledSizeUSD),
				slog.Int("attempts", attempts),
			)
			return domain.OrderOutcome{Kind: domain.OutcomeFilled, Result: res, Attempts: attempts}
		}

		lastErr = err
		if !domain.IsTransient(err) {
			log.Error("order submission failed",
				slog.String("error", err.Error()),
				slog.Int("attempts", attempts),
			)
			return domain.OrderOutcome{Kind: domain.OutcomeFailed, Attempts: attempts, Err: err}
		}
		if attempt == e.retryLimit {
			break
		}

		log.Warn("transient submission error, retrying",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
		)
		if err := e.sleep(ctx, delay); err != nil {
			log.Warn("retry abandoned", slog.String("reason", err.Error()))
			return domain.OrderOutcome{Kind: domain.OutcomeFailed, Attempts: attempts, Err: lastErr}
		}
		delay *= 2
	}

	log.Error("retry budget exhausted",
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()),
	)
	return domain.OrderOutcome{Kind: domain.OutcomeFailed, Attempts: attempts, Err: lastErr}
}
