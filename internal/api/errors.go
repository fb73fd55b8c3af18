package api

import (
	"net/http"

	"github.com/radio-control/controlplane/internal/adapter"
)

var statusByCode = map[adapter.Code]int{
	adapter.CodeInvalidRange:     http.StatusBadRequest,
	adapter.CodeBadRequest:       http.StatusBadRequest,
	adapter.CodeUnauthorized:     http.StatusUnauthorized,
	adapter.CodeForbidden:        http.StatusForbidden,
	adapter.CodeNotFound:         http.StatusNotFound,
	adapter.CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	adapter.CodeBusy:             http.StatusServiceUnavailable,
	adapter.CodeUnavailable:      http.StatusServiceUnavailable,
	adapter.CodeServiceDegraded:  http.StatusServiceUnavailable,
	adapter.CodeNotImplemented:   http.StatusNotImplemented,
	adapter.CodeInternal:         http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a normalized code.
func StatusFor(code adapter.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToAPIError maps err onto a status and error envelope. Only the code,
// message and details of a normalized error are exposed; anything else
// becomes INTERNAL with the stock message.
func ToAPIError(err error) (int, *Response) {
	e := adapter.AsError(err)
	if e == nil {
		e = adapter.New(adapter.CodeInternal, "")
	}

	message := e.Message
	if message == "" {
		message = adapter.DefaultMessage(e.Code)
	}

	resp := &Response{
		Result:  "error",
		Code:    string(e.Code),
		Message: message,
	}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	return StatusFor(e.Code), resp
}

func badRequest(message string) error {
	return adapter.New(adapter.CodeBadRequest, message)
}

func methodNotAllowed(allowed ...string) error {
	return adapter.New(adapter.CodeMethodNotAllowed, "").WithDetails("allowed", allowed)
}
