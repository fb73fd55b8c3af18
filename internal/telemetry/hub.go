package telemetry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
)

// Hub manages telemetry distribution with per-radio buffering.
//
// Lock ordering:
//  1. EventBuffer.mu of a radio lane, or Hub.globalMu for global events
//  2. Hub.mu
//
// A lane lock is held across id assignment, buffering and fan-out, so every
// subscriber sees a radio's events in id order. Hub.mu guards the client
// table, the lane map and the heartbeat; fan-out takes it shared.
type Hub struct {
	config   *config.TimingConfig
	log      *logging.Logger
	snapshot SnapshotFunc

	mu        sync.RWMutex
	clients   map[string]*client
	lanes     map[string]*EventBuffer
	stopped   bool
	heartbeat chan struct{}

	globalMu   sync.Mutex
	globalNext int64

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSnapshot sets the source of the ready snapshot.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// NewHub creates a telemetry hub. Every duration and size it uses comes
// from timing.
func NewHub(timing *config.TimingConfig, opts ...Option) *Hub {
	h := &Hub{
		config:     timing,
		log:        logging.Discard(),
		clients:    make(map[string]*client),
		lanes:      make(map[string]*EventBuffer),
		globalNext: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Component("hub")
	return h
}

// Publish assigns an id if needed, buffers radio events and enqueues the
// event on every interested subscriber without blocking.
func (h *Hub) Publish(e Event) error {
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	if e.Radio == "" {
		return h.publishGlobal(e)
	}

	lane := h.lane(e.Radio)
	lane.mu.Lock()
	defer lane.mu.Unlock()

	stored, err := lane.appendLocked(e)
	if err != nil {
		return err
	}
	h.fanout(stored)
	return nil
}

// PublishRadio publishes e for radioID.
func (h *Hub) PublishRadio(radioID string, e Event) error {
	e.Radio = radioID
	return h.Publish(e)
}

func (h *Hub) publishGlobal(e Event) error {
	h.globalMu.Lock()
	defer h.globalMu.Unlock()

	if e.ID == 0 {
		e.ID = h.globalNext
	} else if e.ID < h.globalNext {
		return fmt.Errorf("%w: %d < %d", ErrStaleEventID, e.ID, h.globalNext)
	}
	h.globalNext = e.ID + 1

	h.fanout(e)
	return nil
}

func (h *Hub) fanout(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.queue <- e:
		default:
			n := c.dropped.Add(1)
			h.log.Debug("client queue full, event dropped", logging.Fields{"client": c.id, "event": e.ID, "dropped": n})
		}
	}
}

// lane returns radioID's buffer, creating it on first use.
func (h *Hub) lane(radioID string) *EventBuffer {
	h.mu.RLock()
	b, ok := h.lanes[radioID]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok = h.lanes[radioID]; !ok {
		b = NewEventBuffer(h.config.EventBufferSize)
		h.lanes[radioID] = b
	}
	return b
}

// Buffer returns radioID's buffer, if any event was ever published for it.
func (h *Hub) Buffer(radioID string) (*EventBuffer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.lanes[radioID]
	return b, ok
}

// Subscribe registers a subscriber writing to sink and starts its delivery
// goroutine. The subscriber first receives a ready event, then (for a radio
// scope with a non-zero LastEventID) the buffered events after that id, and
// then live events. Cancelling ctx or calling Close on the returned handle
// disconnects it.
func (h *Hub) Subscribe(ctx context.Context, sink Sink, opts SubscribeOptions) (*Subscription, error) {
	cctx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     uuid.NewString(),
		ctx:    cctx,
		cancel: cancel,
		sink:   sink,
		lastID: opts.LastEventID,
		radio:  opts.Radio,
		queue:  make(chan Event, h.config.ClientQueueSize),
		done:   make(chan struct{}),
	}

	if err := h.register(c); err != nil {
		cancel()
		return nil, err
	}
	go h.deliver(c)

	h.log.Info("client subscribed", logging.Fields{"client": c.id, "radio": c.radio, "lastEventId": c.lastID})
	return &Subscription{c: c}, nil
}

// register adds c to the client table. For a radio-scoped resume it holds
// the radio's lane while registering and snapshotting the replay, so no
// event is both replayed and delivered live, and none is missed.
func (h *Hub) register(c *client) error {
	if c.radio != "" && c.lastID > 0 {
		lane := h.lane(c.radio)
		lane.mu.Lock()
		defer lane.mu.Unlock()
		if err := h.add(c); err != nil {
			return err
		}
		c.replay = lane.eventsAfterLocked(c.lastID)
		return nil
	}
	return h.add(c)
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHubStopped
	}
	h.clients[c.id] = c
	c.setState(StateSubscribed)
	// counted under h.mu so Stop never waits while a delivery is being added
	h.wg.Add(1)
	if len(h.clients) == 1 && h.heartbeat == nil {
		h.startHeartbeatLocked()
	}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.cancel()
	c.closeQueue()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

// deliver is the subscriber's only writer.
func (h *Hub) deliver(c *client) {
	defer h.wg.Done()
	defer func() {
		c.setState(StateClosed)
		h.remove(c)
		close(c.done)
		h.log.Info("client closed", logging.Fields{"client": c.id, "dropped": c.dropped.Load()})
	}()

	if err := h.write(c, h.readyEvent()); err != nil {
		return
	}

	if len(c.replay) > 0 {
		c.setState(StateReplaying)
		for _, e := range c.replay {
			if err := h.write(c, e); err != nil {
				return
			}
		}
		c.replay = nil
	}
	c.setState(StateStreaming)

	for {
		// cancellation wins over a pending event
		if c.ctx.Err() != nil {
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case e, ok := <-c.queue:
			if !ok {
				return
			}
			if err := h.write(c, e); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(c *client, e Event) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if err := c.sink.WriteEvent(e); err != nil {
		c.err = err
		h.log.Debug("client write failed", logging.Fields{"client": c.id, "error": err})
		return err
	}
	return nil
}

// readyEvent carries id 0, so it never consumes a sequence number.
func (h *Hub) readyEvent() Event {
	snap := Snapshot{Radios: []RadioSummary{}}
	if h.snapshot != nil {
		snap = h.snapshot()
		if snap.Radios == nil {
			snap.Radios = []RadioSummary{}
		}
	}
	return Event{Type: EventReady, Data: map[string]interface{}{"snapshot": snap}}
}

// startHeartbeatLocked requires h.mu held exclusively.
func (h *Hub) startHeartbeatLocked() {
	stop := make(chan struct{})
	h.heartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		timer := time.NewTimer(h.nextHeartbeat())
		defer timer.Stop()
		for {
			select {
			case <-stop:
				return
			case <-timer.C:
				_ = h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
				timer.Reset(h.nextHeartbeat())
			}
		}
	}()
}

// stopHeartbeatLocked requires h.mu held exclusively.
func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeat != nil {
		close(h.heartbeat)
		h.heartbeat = nil
	}
}

// nextHeartbeat returns the interval plus a uniform offset in [-jitter, +jitter].
func (h *Hub) nextHeartbeat() time.Duration {
	d := h.config.HeartbeatInterval
	if j := int64(h.config.HeartbeatJitter); j > 0 {
		d += time.Duration(rand.Int64N(2*j+1) - j)
	}
	return d
}

// HeartbeatRunning reports whether the heartbeat generator is active.
func (h *Hub) HeartbeatRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.heartbeat != nil
}

// ClientCount returns the number of registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop cancels every subscriber, stops the heartbeat and waits up to the
// configured shutdown grace for delivery goroutines to exit. It is safe to
// call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		for _, c := range h.clients {
			c.cancel()
		}
		h.stopHeartbeatLocked()
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(h.config.HubShutdownGrace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			h.log.Warn("shutdown grace elapsed with subscribers still writing")
		}

		h.mu.Lock()
		for id, c := range h.clients {
			c.closeQueue()
			delete(h.clients, id)
		}
		h.mu.Unlock()
		h.log.Info("telemetry hub stopped")
	})
}
