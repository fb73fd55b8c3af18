package audit

import (
	"context"
	"math"
	"strconv"
	"time"
)

// OutcomeSuccess is the outcome of a command that succeeded. Failed
// commands record their normalized error code instead.
const OutcomeSuccess = "SUCCESS"

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	Actor     string                 `json:"actor"`
	RadioID   string                 `json:"radioId"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	LatencyMs float64                `json:"latencyMs"`
}

// encodable returns e with NaN and infinite params in string form, which
// encoding/json would otherwise refuse.
func (e Entry) encodable() Entry {
	e.Params = finiteParams(e.Params)
	return e
}

func finiteParams(params map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for k, v := range params {
		f, ok := v.(float64)
		if !ok || !(math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(params))
			for k2, v2 := range params {
				out[k2] = v2
			}
		}
		out[k] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	if out == nil {
		return params
	}
	return out
}

// Latency returns the recorded latency.
func (e Entry) Latency() time.Duration {
	return time.Duration(e.LatencyMs * float64(time.Millisecond))
}

// LatencyMillis converts d for Entry.LatencyMs.
func LatencyMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Logger is an append-only audit sink.
type Logger interface {
	LogAction(ctx context.Context, e Entry)
}

// Querier returns recent entries, newest first. An empty radioID matches
// every radio.
type Querier interface {
	Recent(ctx context.Context, radioID string, limit int) ([]Entry, error)
}

type actorKey struct{}

// UnknownActor is recorded when the context carries no actor.
const UnknownActor = "unknown"

// WithActor returns a context carrying the acting principal.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting principal, or UnknownActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return UnknownActor
}
