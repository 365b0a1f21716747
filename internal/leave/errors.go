package leave

import (
	"fmt"
	"sort"
	"strings"
)

// Kind groups domain errors by how the caller should react to them.
type Kind int

const (
	KindValidation Kind = iota + 1 // bad user input, surfaced, never retried
	KindTransition                 // state-machine violation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransition:
		return "transition"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Code identifies a domain error. Codes are stable and used as localization keys.
type Code string

const (
	CodeSystemLocked        Code = "system_locked"
	CodeRateLimitExceeded   Code = "rate_limit_exceeded"
	CodeEmptyReason         Code = "empty_reason"
	CodeInvalidDuration     Code = "invalid_duration"
	CodeInvalidDateFormat   Code = "invalid_date_format"
	CodeStartDateInPast     Code = "start_date_in_past"
	CodeEndBeforeStart      Code = "end_before_start"
	CodeDurationMismatch    Code = "duration_mismatch"
	CodeOverlappingLeave    Code = "overlapping_leave"
	CodeMaxDurationExceeded Code = "max_duration_exceeded"
	CodeInvalidStatus       Code = "invalid_status"
	CodeInvalidLanguage     Code = "invalid_language"
	CodeEmptyNote           Code = "empty_note"
	CodeAlreadyProcessed    Code = "already_processed"
	CodeNotFound            Code = "not_found"
)

// Error is a classified domain error. Params carry the values a message needs,
// e.g. the computed duration for CodeDurationMismatch.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Params  map[string]any
}

func (e *Error) Error() string {
	if len(e.Params) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Params[k]))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// Is matches on Code so errors.Is works against the package-level values even
// when params were attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e carrying params.
func (e *Error) With(params map[string]any) *Error {
	cp := *e
	cp.Params = params
	return &cp
}

func newError(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrSystemLocked        = newError(KindValidation, CodeSystemLocked, "leave system is locked")
	ErrRateLimitExceeded   = newError(KindValidation, CodeRateLimitExceeded, "weekly request limit reached")
	ErrEmptyReason         = newError(KindValidation, CodeEmptyReason, "reason is required")
	ErrInvalidDuration     = newError(KindValidation, CodeInvalidDuration, "duration must be a positive whole number of days")
	ErrInvalidDateFormat   = newError(KindValidation, CodeInvalidDateFormat, "invalid date, expected YYYY-MM-DD")
	ErrStartDateInPast     = newError(KindValidation, CodeStartDateInPast, "start date is in the past")
	ErrEndBeforeStart      = newError(KindValidation, CodeEndBeforeStart, "end date is before start date")
	ErrDurationMismatch    = newError(KindValidation, CodeDurationMismatch, "duration does not match the date range")
	ErrOverlappingLeave    = newError(KindValidation, CodeOverlappingLeave, "an approved leave overlaps this period")
	ErrMaxDurationExceeded = newError(KindValidation, CodeMaxDurationExceeded, "duration exceeds the maximum allowed for your role")
	ErrInvalidStatus       = newError(KindValidation, CodeInvalidStatus, "unknown status")
	ErrInvalidLanguage     = newError(KindValidation, CodeInvalidLanguage, "unsupported language")
	ErrEmptyNote           = newError(KindValidation, CodeEmptyNote, "note text is required")
	ErrAlreadyProcessed    = newError(KindTransition, CodeAlreadyProcessed, "request has already been processed")
	ErrNotFound            = newError(KindNotFound, CodeNotFound, "leave request not found")
)
