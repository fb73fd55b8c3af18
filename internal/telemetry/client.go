package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
)

// ClientState is a subscriber's lifecycle state.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateSubscribed
	StateReplaying
	StateStreaming
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateReplaying:
		return "REPLAYING"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sink writes events to one subscriber's transport. WriteEvent is only
// ever called from the subscriber's delivery goroutine.
type Sink interface {
	WriteEvent(e Event) error
}

// SubscribeOptions selects resume point and scope.
type SubscribeOptions struct {
	// LastEventID is the resume token; zero means no replay.
	LastEventID int64
	// Radio limits delivery to one radio's events plus global events.
	Radio string
}

type client struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	sink   Sink
	lastID int64
	radio  string

	// queue is closed only while holding Hub.mu exclusively, so fan-out
	// under the read lock never sends on a closed channel.
	queue     chan Event
	closeOnce sync.Once
	replay    []Event

	state   atomic.Int32
	dropped atomic.Uint64
	done    chan struct{}
	err     error
}

func (c *client) wants(e Event) bool {
	return c.radio == "" || e.Radio == "" || e.Radio == c.radio
}

func (c *client) setState(s ClientState) {
	c.state.Store(int32(s))
}

func (c *client) closeQueue() {
	c.closeOnce.Do(func() { close(c.queue) })
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	c *client
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.c.id }

// State returns the current lifecycle state.
func (s *Subscription) State() ClientState { return ClientState(s.c.state.Load()) }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.c.dropped.Load() }

// Done is closed once the subscriber is deregistered.
func (s *Subscription) Done() <-chan struct{} { return s.c.done }

// Close disconnects the subscriber.
func (s *Subscription) Close() { s.c.cancel() }

// Wait blocks until the subscriber is closed and returns the write error
// that ended it, if any.
func (s *Subscription) Wait() error {
	<-s.c.done
	return s.c.err
}
