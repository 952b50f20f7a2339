package types

import (
	"errors"
	"fmt"
)

var (
	ErrNoQuote                         = errors.New("no quote available")
	ErrPriceImpactExceeded             = errors.New("price impact exceeds ceiling")
	ErrPathNotCircular                 = errors.New("path is not circular")
	ErrInsufficientBalance             = errors.New("insufficient balance for gas reserve")
	ErrGasPriceExceeded                = errors.New("gas price above ceiling")
	ErrBelowProfitThreshold            = errors.New("return below profit threshold")
	ErrExecutionReverted               = errors.New("execution reverted")
	ErrTransientNetwork                = errors.New("transient network error")
	ErrConsecutiveFailureLimitExceeded = errors.New("consecutive failure limit exceeded")
	ErrUnprofitable                    = errors.New("net profit not positive")
)

// GateRejection names the gate check that refused an opportunity.
type GateRejection struct {
	Check string
	Err   error
}

func (r *GateRejection) Error() string {
	return fmt.Sprintf("gate %s: %v", r.Check, r.Err)
}

func (r *GateRejection) Unwrap() error {
	return r.Err
}

// ExecutionRevertedError carries the classified reason of a failed settlement.
type ExecutionRevertedError struct {
	Reason FailureReason
	Err    error
}

func (e *ExecutionRevertedError) Error() string {
	return fmt.Sprintf("execution reverted (%s): %v", e.Reason, e.Err)
}

func (e *ExecutionRevertedError) Unwrap() []error {
	return []error{ErrExecutionReverted, e.Err}
}
