// Package telemetry implements the telemetry hub.
//
// The hub assigns per-radio monotonic event ids, keeps the last N events of
// each radio for Last-Event-ID replay and fans every event out to connected
// subscribers over SSE or WebSocket. Slow subscribers lose events; they never
// slow the publisher.
package telemetry
