package domain

import (
	"errors"
	"fmt"
)

// OrderRequest is a validated intent to place a copy order. SizeUSD is always
// positive; Side carries the direction. IdempotencyKey is derived from the
// source event identity and is stable across retries.
type OrderRequest struct {
	Market         string
	AssetID        string
	Side           Side
	SizeUSD        float64
	Price          float64
	IdempotencyKey string
}

// Validate checks the request invariants before submission.
func (r OrderRequest) Validate() error {
	switch {
	case r.Market == "":
		return fmt.Errorf("%w: empty market", ErrInvalidOrder)
	case r.AssetID == "":
		return fmt.Errorf("%w: empty asset id", ErrInvalidOrder)
	case r.Side != SideBuy && r.Side != SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, r.Side)
	case r.SizeUSD <= 0:
		return fmt.Errorf("%w: size %.4f", ErrInvalidOrder, r.SizeUSD)
	case r.Price < 0 || r.Price > 1:
		return fmt.Errorf("%w: price %.4f", ErrInvalidOrder, r.Price)
	case r.IdempotencyKey == "":
		return fmt.Errorf("%w: empty idempotency key", ErrInvalidOrder)
	}
	return nil
}

// SignedSizeUSD returns the order notional signed by direction, the amount an
// accepted fill contributes to the position ledger.
func (r OrderRequest) SignedSizeUSD() float64 {
	if r.Side == SideSell {
		return -r.SizeUSD
	}
	return r.SizeUSD
}

// OutcomeKind classifies the terminal result of a submission.
type OutcomeKind string

const (
	OutcomeFilled   OutcomeKind = "filled"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeFailed   OutcomeKind = "failed"
)

// OrderResult is the venue's response to a single submission attempt.
type OrderResult struct {
	Success       bool
	OrderID       string
	FilledSizeUSD float64
	FilledPrice   float64
	Message       string
}

// OrderOutcome is the executor's terminal verdict for an order after all
// retry attempts have been consumed or a fatal condition was hit.
type OrderOutcome struct {
	Kind     OutcomeKind
	Result   OrderResult
	Attempts int
	Err      error
}

// SubmissionError wraps a failed submission attempt. Transient errors
// (timeouts, rate limits, 5xx) are eligible for retry; fatal errors
// (rejections, validation failures) terminate immediately.
type SubmissionError struct {
	Transient bool
	Err       error
}

func (e *SubmissionError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("submission %s: %v", kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable submission error.
func IsTransient(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Transient
}
