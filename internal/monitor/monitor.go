package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
)

// Rejection is the subset of a failed trade outcome the monitor reports on.
type Rejection interface {
	AlertSummary() string
}

// Monitor watches the bus for rejected orders and lagging subscribers and
// forwards them to a sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  zerolog.Logger
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Info().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeMany(64, events.EventOrderRejected, events.EventSubscriberLagged)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(env)); err != nil {
					m.Log.Error().Err(err).Msg("alert delivery failed")
				}
			}
		}
	}()
}

func formatAlert(env events.Envelope) string {
	switch p := env.Payload.(type) {
	case Rejection:
		return p.AlertSummary()
	case events.SubscriberLag:
		return fmt.Sprintf("subscriber %s lagging on %s, %d quotes dropped", p.SubscriptionID, p.Symbol, p.Dropped)
	case string:
		return p
	default:
		return string(env.Event) + " triggered"
	}
}
