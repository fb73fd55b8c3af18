package audit

import (
	"context"
	"sync"
)

type multi []Logger

// Multi fans each entry out to every non-nil sink.
func Multi(sinks ...Logger) Logger {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) LogAction(ctx context.Context, e Entry) {
	for _, s := range m {
		s.LogAction(ctx, e)
	}
}

// Recorder keeps entries in memory. It is a Logger and a Querier.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// LogAction implements Logger.
func (r *Recorder) LogAction(_ context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns every entry in write order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Recent implements Querier.
func (r *Recorder) Recent(_ context.Context, radioID string, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if radioID == "" || r.entries[i].RadioID == radioID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}
