package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a normalized error code. It is the only part of an error that
// callers outside the orchestrator may branch on.
type Code string

// Orchestrator-level codes.
const (
	CodeInvalidRange Code = "INVALID_RANGE"
	CodeBusy         Code = "BUSY"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeInternal     Code = "INTERNAL"
)

// Gateway-level codes.
const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeNotImplemented   Code = "NOT_IMPLEMENTED"
	CodeServiceDegraded  Code = "SERVICE_DEGRADED"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrInvalidRange = &Error{Code: CodeInvalidRange}
	ErrBusy         = &Error{Code: CodeBusy}
	ErrUnavailable  = &Error{Code: CodeUnavailable}
	ErrInternal     = &Error{Code: CodeInternal}
	ErrNotFound     = &Error{Code: CodeNotFound}
)

var defaultMessages = map[Code]string{
	CodeInvalidRange:     "Parameter value is outside the allowed range",
	CodeBusy:             "Radio is busy, retry with backoff",
	CodeUnavailable:      "Radio is unavailable",
	CodeInternal:         "Internal error",
	CodeUnauthorized:     "Authentication required",
	CodeForbidden:        "Insufficient permissions",
	CodeNotFound:         "Resource not found",
	CodeMethodNotAllowed: "Method not allowed",
	CodeBadRequest:       "Malformed request",
	CodeNotImplemented:   "Not implemented",
	CodeServiceDegraded:  "Service degraded",
}

// DefaultMessage returns the stock message for code.
func DefaultMessage(code Code) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return defaultMessages[CodeInternal]
}

// Error is a normalized error. Cause keeps the original failure for
// diagnostics; it is never rendered to API callers.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	if message == "" {
		message = DefaultMessage(code)
	}
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of e with key set in Details.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	c := *e
	c.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, ErrBusy) holds for every BUSY error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// AsError extracts the *Error in err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf returns the normalized code of err. Errors that were never
// normalized report INTERNAL; nil reports "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e := AsError(err); e != nil {
		return e.Code
	}
	return CodeInternal
}

// Vendor table names.
const (
	VendorGeneric = "generic"
	VendorSilvus  = "silvus"
)

// VendorMap defines the error token mapping for a specific vendor.
// Matching is a case-insensitive substring test, checked in the order
// Range, Busy, Unavailable. Anything unmatched is INTERNAL.
type VendorMap struct {
	Range       []string
	Busy        []string
	Unavailable []string
}

var vendorMaps = map[string]VendorMap{
	VendorSilvus: {
		Range: []string{
			"TX_POWER_OUT_OF_RANGE",
			"FREQUENCY_OUT_OF_RANGE",
			"INVALID_POWER_LEVEL",
			"INVALID_FREQUENCY",
			"PARAMETER_OUT_OF_RANGE",
			"VALUE_OUT_OF_BOUNDS",
			"INVALID_PARAMETER",
		},
		Busy: []string{
			"RF_BUSY",
			"TRANSMITTER_BUSY",
			"RADIO_BUSY",
			"OPERATION_IN_PROGRESS",
			"COMMAND_QUEUE_FULL",
			"RATE_LIMITED",
		},
		Unavailable: []string{
			"NODE_UNAVAILABLE",
			"RADIO_OFFLINE",
			"REBOOTING",
			"SOFT_BOOT_IN_PROGRESS",
			"SYSTEM_INITIALIZING",
			"NOT_READY",
			"OFFLINE",
		},
	},
	VendorGeneric: {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"INVALID_RANGE",
			"BAD_VALUE",
			"RANGE_ERROR",
		},
		Busy: []string{
			"BUSY",
			"RETRY",
			"RATE_LIMIT",
			"TOO_MANY_REQUESTS",
			"BACKOFF",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"REBOOT",
			"SOFT_BOOT",
			"OFFLINE",
			"NOT_READY",
		},
	},
}

// Vendors lists the known vendor tables.
func Vendors() []string {
	names := make([]string, 0, len(vendorMaps))
	for name := range vendorMaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify maps a vendor message to a code using vendorID's table,
// falling back to the generic table for unknown vendors.
func Classify(vendorID, msg string) Code {
	m, ok := vendorMaps[vendorID]
	if !ok {
		m = vendorMaps[VendorGeneric]
	}

	upper := strings.ToUpper(msg)
	match := func(tokens []string) bool {
		for _, token := range tokens {
			if strings.Contains(upper, token) {
				return true
			}
		}
		return false
	}

	switch {
	case match(m.Range):
		return CodeInvalidRange
	case match(m.Busy):
		return CodeBusy
	case match(m.Unavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// Normalize is NormalizeFor with the generic table.
func Normalize(err error, details map[string]interface{}) error {
	return NormalizeFor(VendorGeneric, err, details)
}

// NormalizeFor maps any adapter-originated error onto exactly one code.
//
// An error that already carries a code keeps it. A deadline that expired
// while talking to the radio is UNAVAILABLE; a caller cancellation is
// INTERNAL. Everything else is classified by vendor token table. The
// resulting message is the stock message for the code; the vendor text
// survives only in Cause.
func NormalizeFor(vendorID string, err error, details map[string]interface{}) error {
	if err == nil {
		return nil
	}

	if e := AsError(err); e != nil {
		if len(details) == 0 || len(e.Details) > 0 {
			return e
		}
		c := *e
		c.Details = copyDetails(details)
		return &c
	}

	var code Code
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = CodeInternal
	default:
		code = Classify(vendorID, err.Error())
	}

	return &Error{
		Code:    code,
		Message: DefaultMessage(code),
		Details: copyDetails(details),
		Cause:   err,
	}
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
