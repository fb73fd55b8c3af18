package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the request's correlation id.
const CorrelationHeader = "X-Correlation-ID"

// Response is the unified envelope.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

type correlationKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id assigned to the request, minting one if the
// request never passed through the gateway middleware.
func CorrelationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: CorrelationID(r),
	})
}

// WriteError writes the error envelope and status for err.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToAPIError(err)
	resp.CorrelationID = CorrelationID(r)
	writeResponse(w, status, resp)
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(&Response{
			Result:        "error",
			Code:          "INTERNAL",
			Message:       "Failed to marshal response",
			CorrelationID: resp.CorrelationID,
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(CorrelationHeader, resp.CorrelationID)
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
