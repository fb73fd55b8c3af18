// Package api is the HTTP gateway under /api/v1.
//
// Handlers parse strict JSON, call the orchestrator and answer with one
// envelope: {"result":"ok","data":...} or {"result":"error","code":...}.
// Each response carries a correlation id, echoed in X-Correlation-ID.
package api
