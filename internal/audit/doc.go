// Package audit records one entry per control action.
//
// Sinks are fire-and-forget: a failed write is logged, never returned to
// the command that produced it.
package audit
