package model

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is a field-level validation finding. It is returned in
// slices from Validate, never raised.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// EndpointUnreachableError aborts the remaining tests for one endpoint only.
// Endpoint carries the URL that failed.
type EndpointUnreachableError struct {
	Endpoint string
	Cause    error
}

func (e *EndpointUnreachableError) Error() string {
	return fmt.Sprintf("endpoint %s unreachable: %v", e.Endpoint, e.Cause)
}

func (e *EndpointUnreachableError) Unwrap() error { return e.Cause }

// IsEndpointUnreachable reports whether err is an endpoint-unreachable
// condition.
func IsEndpointUnreachable(err error) bool {
	var target *EndpointUnreachableError
	return errors.As(err, &target)
}

// StepTimeoutError fails the step (and the test, unless the step is
// optional) but never the whole run.
type StepTimeoutError struct {
	StepIndex int
	Timeout   time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d timed out after %s waiting for a reply", e.StepIndex, e.Timeout)
}

// JudgeUnavailableError marks a judge call failure. The evaluator records it
// as a non-blocking issue so pattern checks still produce a partial verdict.
type JudgeUnavailableError struct {
	Cause error
}

func (e *JudgeUnavailableError) Error() string {
	return fmt.Sprintf("judge unavailable: %v", e.Cause)
}

func (e *JudgeUnavailableError) Unwrap() error { return e.Cause }

// IsJudgeUnavailable reports whether err is a judge availability failure.
func IsJudgeUnavailable(err error) bool {
	var target *JudgeUnavailableError
	return errors.As(err, &target)
}
