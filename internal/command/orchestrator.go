package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/audit"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
	"github.com/radio-control/controlplane/internal/radio"
	"github.com/radio-control/controlplane/internal/telemetry"
)

// Coarse frequency sanity band, in MHz.
const (
	MinFrequencyMhz = 100.0
	MaxFrequencyMhz = 6000.0
)

// Orchestrator routes validated intents to the adapter of the targeted
// radio. Commands against one radio run one at a time.
type Orchestrator struct {
	manager *radio.Manager
	timing  *config.TimingConfig
	hub     Publisher
	audit   audit.Logger
	log     *logging.Logger
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the event sink. Without one, events are dropped.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.hub = p }
}

// WithAudit sets the audit sink. Without one, entries are dropped.
func WithAudit(l audit.Logger) Option {
	return func(o *Orchestrator) { o.audit = l }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l.Component("orchestrator")
		}
	}
}

// NewOrchestrator creates an orchestrator over manager.
func NewOrchestrator(manager *radio.Manager, timing *config.TimingConfig, opts ...Option) (*Orchestrator, error) {
	if manager == nil {
		return nil, fmt.Errorf("orchestrator requires a radio manager")
	}
	if timing == nil {
		return nil, fmt.Errorf("orchestrator requires timing configuration")
	}

	o := &Orchestrator{
		manager: manager,
		timing:  timing,
		log:     logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// call tracks one invocation from entry to its audit record.
type call struct {
	action  string
	radioID string
	params  map[string]interface{}
	start   time.Time
}

func (o *Orchestrator) begin(action, radioID string, params map[string]interface{}) *call {
	return &call{action: action, radioID: radioID, params: params, start: o.now()}
}

// SetPower sets the transmit power of a radio in dBm.
func (o *Orchestrator) SetPower(ctx context.Context, radioID string, dBm float64) error {
	c := o.begin(ActionSetPower, radioID, map[string]interface{}{"powerDbm": dBm})

	if err := o.checkRadio(radioID); err != nil {
		return o.reject(ctx, c, err)
	}
	if math.IsNaN(dBm) || dBm < radio.MinPowerDbm || dBm > radio.MaxPowerDbm {
		return o.reject(ctx, c, adapter.Newf(adapter.CodeInvalidRange,
			"power must be between %d and %d dBm", radio.MinPowerDbm, radio.MaxPowerDbm).
			WithDetails("powerDbm", dBm))
	}

	err := o.execute(ctx, c, func(ctx context.Context, a adapter.IRadioAdapter) error {
		return a.SetPower(ctx, dBm)
	})
	if err != nil {
		return o.fail(ctx, c, err)
	}

	o.succeed(ctx, c)
	o.publish(radioID, telemetry.EventPowerChanged, map[string]interface{}{
		"radioId":  radioID,
		"powerDbm": dBm,
	})
	return nil
}

// SetChannel tunes a radio to frequencyMhz.
func (o *Orchestrator) SetChannel(ctx context.Context, radioID string, frequencyMhz float64) error {
	c := o.begin(ActionSetChannel, radioID, map[string]interface{}{"frequencyMhz": frequencyMhz})

	if err := o.checkRadio(radioID); err != nil {
		return o.reject(ctx, c, err)
	}
	if err := validateFrequency(frequencyMhz); err != nil {
		return o.reject(ctx, c, err)
	}
	return o.tune(ctx, c, frequencyMhz, o.manager.ChannelIndexFor(radioID, frequencyMhz))
}

// SetChannelByIndex tunes a radio to the frequency its channel table maps
// channelIndex to.
func (o *Orchestrator) SetChannelByIndex(ctx context.Context, radioID string, channelIndex int) error {
	c := o.begin(ActionSetChannel, radioID, map[string]interface{}{"channelIndex": channelIndex})

	if err := o.checkRadio(radioID); err != nil {
		return o.reject(ctx, c, err)
	}
	if channelIndex <= 0 {
		return o.reject(ctx, c, adapter.New(adapter.CodeInvalidRange, "channel index must be positive").
			WithDetails("reason", "indexNotPositive").
			WithDetails("channelIndex", channelIndex))
	}

	frequencyMhz, ok := o.manager.FrequencyFor(radioID, channelIndex)
	if !ok {
		return o.reject(ctx, c, adapter.Newf(adapter.CodeInvalidRange, "channel %d is not in the radio's channel table", channelIndex).
			WithDetails("reason", "channelNotFound").
			WithDetails("channelIndex", channelIndex))
	}
	c.params["frequencyMhz"] = frequencyMhz
	if err := validateFrequency(frequencyMhz); err != nil {
		return o.reject(ctx, c, err)
	}
	return o.tune(ctx, c, frequencyMhz, channelIndex)
}

func (o *Orchestrator) tune(ctx context.Context, c *call, frequencyMhz float64, channelIndex int) error {
	err := o.execute(ctx, c, func(ctx context.Context, a adapter.IRadioAdapter) error {
		return a.SetFrequency(ctx, frequencyMhz)
	})
	if err != nil {
		return o.fail(ctx, c, err)
	}

	o.succeed(ctx, c)
	o.publish(c.radioID, telemetry.EventChannelChanged, map[string]interface{}{
		"radioId":      c.radioID,
		"frequencyMhz": frequencyMhz,
		"channelIndex": channelIndex,
	})
	return nil
}

// SelectRadio makes radioID the active radio once its adapter answers a
// state read.
func (o *Orchestrator) SelectRadio(ctx context.Context, radioID string) error {
	c := o.begin(ActionSelectRadio, radioID, nil)

	if radioID == "" {
		return o.reject(ctx, c, adapter.New(adapter.CodeBadRequest, "radioId is required"))
	}
	if err := o.checkRadio(radioID); err != nil {
		return o.reject(ctx, c, err)
	}

	var state *adapter.RadioState
	err := o.execute(ctx, c, func(ctx context.Context, a adapter.IRadioAdapter) error {
		var err error
		state, err = a.GetState(ctx)
		return err
	})
	if err != nil {
		return o.fail(ctx, c, err)
	}
	if err := o.manager.SetActive(radioID); err != nil {
		return o.reject(ctx, c, err)
	}
	o.record(radioID, state)

	o.succeed(ctx, c)
	data := map[string]interface{}{
		"radioId": radioID,
		"status":  string(radio.StatusOnline),
		"active":  true,
	}
	if state != nil {
		data["powerDbm"] = state.PowerDbm
		data["frequencyMhz"] = state.FrequencyMhz
	}
	o.publish(radioID, telemetry.EventState, data)
	return nil
}

// GetState reads a radio's current state and refreshes the cached copy.
func (o *Orchestrator) GetState(ctx context.Context, radioID string) (*adapter.RadioState, error) {
	c := o.begin(ActionGetState, radioID, nil)

	if err := o.checkRadio(radioID); err != nil {
		return nil, o.reject(ctx, c, err)
	}

	var state *adapter.RadioState
	err := o.execute(ctx, c, func(ctx context.Context, a adapter.IRadioAdapter) error {
		var err error
		state, err = a.GetState(ctx)
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, c, err)
	}
	if state == nil {
		return nil, o.fail(ctx, c, adapter.New(adapter.CodeInternal, "adapter returned no state"))
	}
	o.record(radioID, state)

	o.succeed(ctx, c)
	return state, nil
}

func (o *Orchestrator) checkRadio(radioID string) error {
	if !o.manager.Exists(radioID) {
		return adapter.Newf(adapter.CodeNotFound, "radio %q not found", radioID)
	}
	return nil
}

func validateFrequency(frequencyMhz float64) error {
	if math.IsNaN(frequencyMhz) || frequencyMhz <= 0 || frequencyMhz < MinFrequencyMhz || frequencyMhz > MaxFrequencyMhz {
		return adapter.Newf(adapter.CodeInvalidRange, "frequency must be between %.0f and %.0f MHz", MinFrequencyMhz, MaxFrequencyMhz).
			WithDetails("frequencyMhz", frequencyMhz)
	}
	return nil
}

// execute runs fn against the radio's adapter inside the radio's lane and
// the action's timeout. The returned error is normalized.
func (o *Orchestrator) execute(ctx context.Context, c *call, fn func(context.Context, adapter.IRadioAdapter) error) error {
	a, err := o.manager.Adapter(c.radioID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timing.CommandTimeout(c.action))
	defer cancel()

	release, err := o.manager.Acquire(ctx, c.radioID)
	if err != nil {
		return err
	}
	defer release()

	return adapter.NormalizeFor(adapter.VendorOf(a), fn(ctx, a), nil)
}


func (o *Orchestrator) record(radioID string, state *adapter.RadioState) {
	if err := o.manager.UpdateState(radioID, state); err != nil {
		o.log.Warn("failed to cache radio state", logging.Fields{"radioId": radioID, "error": err})
	}
}

// reject finishes a call that never reached the adapter: audited, no event.
func (o *Orchestrator) reject(ctx context.Context, c *call, err error) error {
	err = adapter.Normalize(err, nil)
	o.audited(ctx, c, string(adapter.CodeOf(err)))
	o.log.Debug("command rejected", logging.Fields{"action": c.action, "radioId": c.radioID, "code": adapter.CodeOf(err)})
	return err
}

// fail finishes a call whose execution failed: audited, fault published.
func (o *Orchestrator) fail(ctx context.Context, c *call, err error) error {
	err = adapter.Normalize(err, nil)
	code := adapter.CodeOf(err)
	o.audited(ctx, c, string(code))

	fields := logging.Fields{"action": c.action, "radioId": c.radioID, "code": code}
	if cause := errors.Unwrap(err); cause != nil {
		fields["cause"] = cause
	}
	o.log.Warn("command failed", fields)

	message := adapter.DefaultMessage(code)
	if e := adapter.AsError(err); e != nil && e.Message != "" {
		message = e.Message
	}
	o.publish(c.radioID, telemetry.EventFault, map[string]interface{}{
		"radioId": c.radioID,
		"action":  c.action,
		"code":    string(code),
		"message": message,
	})
	return err
}

func (o *Orchestrator) succeed(ctx context.Context, c *call) {
	o.audited(ctx, c, audit.OutcomeSuccess)
	o.log.Debug("command succeeded", logging.Fields{"action": c.action, "radioId": c.radioID})
}

func (o *Orchestrator) audited(ctx context.Context, c *call, outcome string) {
	if o.audit == nil {
		return
	}
	end := o.now()
	o.audit.LogAction(ctx, audit.Entry{
		Timestamp: end.UTC(),
		Actor:     audit.ActorFromContext(ctx),
		RadioID:   c.radioID,
		Action:    c.action,
		Params:    c.params,
		Outcome:   outcome,
		LatencyMs: audit.LatencyMillis(end.Sub(c.start)),
	})
}

func (o *Orchestrator) publish(radioID string, t telemetry.EventType, data map[string]interface{}) {
	if o.hub == nil {
		return
	}
	data["ts"] = o.now().UTC().Format(time.RFC3339)
	if err := o.hub.PublishRadio(radioID, telemetry.Event{Type: t, Data: data}); err != nil {
		o.log.Warn("failed to publish event", logging.Fields{"type": t, "radioId": radioID, "error": err})
	}
}
