// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package errors implements the error taxonomy every data-plane and
// control-plane operation reports through: Validation, Authorization,
// Quota, Conflict, Unavailable, ActivityFailure, WorkflowFailure, and
// Fatal. Conflict and transient Unavailable are meant to be recovered
// internally (see internal/common/backoff); everything else surfaces to
// the caller with a stable Kind and a message.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, caller-facing error classification.
type Kind string

const (
	KindValidation    Kind = "Validation"
	KindAuthorization Kind = "Authorization"
	KindQuota         Kind = "Quota"
	KindConflict      Kind = "Conflict"
	KindUnavailable   Kind = "Unavailable"
	KindActivity      Kind = "ActivityFailure"
	KindWorkflow      Kind = "WorkflowFailure"
	KindFatal         Kind = "Fatal"
	KindBackpressure  Kind = "Backpressured"
)

// ActivityFailureKind distinguishes the four ways an activity attempt
// can end unsuccessfully (§4.3, §7).
type ActivityFailureKind string

const (
	ActivityRetryable    ActivityFailureKind = "Retryable"
	ActivityNonRetryable ActivityFailureKind = "NonRetryable"
	ActivityTimeout      ActivityFailureKind = "Timeout"
	ActivityCancelled    ActivityFailureKind = "Cancelled"
)

type coreError struct {
	kind    Kind
	message string
	cause   error
}

func (e *coreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *coreError) Unwrap() error { return e.cause }

// KindOf returns the stable classification of a core error. Kind("")
// is returned for errors that did not originate in this package.
func KindOf(err error) Kind {
	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return ""
}

func newCoreError(kind Kind, message string, cause error) *coreError {
	return &coreError{kind: kind, message: message, cause: cause}
}

// ValidationError reports malformed input: bad version, unknown
// workflow type, schema violation.
type ValidationError struct {
	*coreError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{coreError: newCoreError(KindValidation, message, nil), Field: field}
}

// AuthorizationReason enumerates the §4.2 checks, in the order they
// are evaluated.
type AuthorizationReason string

const (
	ReasonTenantInactive   AuthorizationReason = "TenantInactive"
	ReasonFeatureDisabled  AuthorizationReason = "FeatureDisabled"
	ReasonUnauthorized     AuthorizationReason = "Unauthorized"
	ReasonCrossTenant      AuthorizationReason = "CrossTenantAccess"
)

// AuthorizationError reports a §4.2 policy check failure.
type AuthorizationError struct {
	*coreError
	Reason AuthorizationReason
}

func NewAuthorizationError(reason AuthorizationReason, message string) *AuthorizationError {
	return &AuthorizationError{coreError: newCoreError(KindAuthorization, message, nil), Reason: reason}
}

// QuotaError reports a §4.2 quota check failure with the accounting
// callers need to see (used/limit/requested).
type QuotaError struct {
	*coreError
	Resource  string
	Used      int64
	Limit     int64
	Requested int64
}

func NewQuotaError(resource string, used, limit, requested int64) *QuotaError {
	msg := fmt.Sprintf("%s: used=%d limit=%d requested=%d", resource, used, limit, requested)
	return &QuotaError{
		coreError: newCoreError(KindQuota, msg, nil),
		Resource:  resource, Used: used, Limit: limit, Requested: requested,
	}
}

// ConflictError reports a CAS loss on History Store append (§4.1).
// Callers (inside the core) reload and retry; it is never meant to
// leak past the replay/dispatch loop under normal operation.
type ConflictError struct {
	*coreError
	ExecutionID      string
	ExpectedNextID   int64
	ActualNextID     int64
}

func NewConflictError(executionID string, expected, actual int64) *ConflictError {
	msg := fmt.Sprintf("execution %s: expected next_event_id=%d, actual=%d", executionID, expected, actual)
	return &ConflictError{coreError: newCoreError(KindConflict, msg, nil), ExecutionID: executionID, ExpectedNextID: expected, ActualNextID: actual}
}

// UnavailableError reports persistence or downstream unavailability.
// Retried with backoff up to a bound by the caller, then reported.
type UnavailableError struct {
	*coreError
}

func NewUnavailableError(message string, cause error) *UnavailableError {
	return &UnavailableError{coreError: newCoreError(KindUnavailable, message, cause)}
}

// ActivityError is returned to the workflow runtime when a scheduled
// activity's final attempt does not succeed.
type ActivityError struct {
	*coreError
	ActivityType     string
	ScheduledEventID int64
	Attempt          int32
	FailureKind      ActivityFailureKind
}

func NewActivityError(activityType string, scheduledEventID int64, attempt int32, kind ActivityFailureKind, cause error) *ActivityError {
	msg := fmt.Sprintf("activity %s (scheduledEventID=%d, attempt=%d) failed: %s", activityType, scheduledEventID, attempt, kind)
	return &ActivityError{
		coreError:        newCoreError(KindActivity, msg, cause),
		ActivityType:     activityType,
		ScheduledEventID: scheduledEventID,
		Attempt:          attempt,
		FailureKind:      kind,
	}
}

// IsRetryable reports whether this activity failure kind should drive
// another attempt of the retry policy loop.
func (e *ActivityError) IsRetryable() bool {
	return e.FailureKind == ActivityRetryable
}

// WorkflowError is returned from get_status.failure: an aggregated
// activity failure or an explicit fail() from the workflow body.
type WorkflowError struct {
	*coreError
	ExecutionID string
	RunID       string
}

func NewWorkflowError(executionID, runID, message string, cause error) *WorkflowError {
	return &WorkflowError{coreError: newCoreError(KindWorkflow, message, cause), ExecutionID: executionID, RunID: runID}
}

// FatalError reports an invariant violation (e.g. a history gap). The
// execution carrying it is quarantined: the scheduler must refuse to
// advance it until a human operator intervenes (§7).
type FatalError struct {
	*coreError
	ExecutionID string
}

func NewFatalError(executionID, message string) *FatalError {
	return &FatalError{coreError: newCoreError(KindFatal, message, nil), ExecutionID: executionID}
}

// As/Is support via errors.As on the concrete types above; these
// helpers mirror internal/error.go's IsCanceledError style for the
// cases callers check most often.

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsUnavailable(err error) bool {
	var e *UnavailableError
	return errors.As(err, &e)
}

func IsQuota(err error) bool {
	var e *QuotaError
	return errors.As(err, &e)
}

func IsFatal(err error) bool {
	var e *FatalError
	return errors.As(err, &e)
}

// BackpressureError reports that a task queue's depth has crossed its
// high-water mark (§4.5): new start_workflow requests are rejected
// while in-flight executions continue to progress.
type BackpressureError struct {
	*coreError
	Queue         string
	Depth         int
	HighWaterMark int
}

func NewBackpressureError(queue string, depth, highWaterMark int) *BackpressureError {
	msg := fmt.Sprintf("queue %s: depth=%d high_water_mark=%d", queue, depth, highWaterMark)
	return &BackpressureError{
		coreError:     newCoreError(KindBackpressure, msg, nil),
		Queue:         queue,
		Depth:         depth,
		HighWaterMark: highWaterMark,
	}
}

func IsBackpressured(err error) bool {
	var e *BackpressureError
	return errors.As(err, &e)
}
