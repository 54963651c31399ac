package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/store"
)

// Sink is one delivery channel for rendered messages.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// Ledger records dispatched messages; *store.Store satisfies it.
type Ledger interface {
	RecordEvent(ctx context.Context, e store.LedgerEntry) error
}

// Dispatcher fans a message out to every sink. Delivery is best effort:
// state is already saved by the time a message reaches the dispatcher,
// so a sink failure is logged and counted but never fails the tick or
// resurrects the event.
type Dispatcher struct {
	Sinks   []Sink
	Ledger  Ledger
	Metrics *monitoring.Collector
}

func NewDispatcher(ledger Ledger, metrics *monitoring.Collector, sinks ...Sink) *Dispatcher {
	return &Dispatcher{Sinks: sinks, Ledger: ledger, Metrics: metrics}
}

// Dispatch assigns the message an id, appends it to the event ledger,
// and delivers it to each sink in order.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	if d.Ledger != nil {
		err := d.Ledger.RecordEvent(ctx, store.LedgerEntry{
			ID:         m.ID,
			ICAO:       m.ICAO,
			Kind:       m.Kind,
			OccurredAt: m.OccurredAt,
			Subject:    m.Subject,
			Body:       m.Body,
		})
		if err != nil {
			monitoring.Logf("dispatch: failed to record event %s: %v", m.ID, err)
		}
	}

	for _, sink := range d.Sinks {
		if err := sink.Deliver(ctx, m); err != nil {
			monitoring.Logf("dispatch: sink %s failed for event %s: %v", sink.Name(), m.ID, err)
			if d.Metrics != nil {
				d.Metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			}
		}
	}

	if d.Metrics != nil {
		d.Metrics.Events.WithLabelValues(string(m.Kind)).Inc()
	}
}
