package monitor

import "github.com/rs/zerolog"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a zerolog logger at warn level.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn().Str("alert", message).Msg("execution alert")
	return nil
}
