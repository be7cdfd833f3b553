package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LocalChannel writes events to the structured log. It never fails.
type LocalChannel struct {
	log zerolog.Logger
}

// NewLocalChannel creates a local channel on the given logger.
func NewLocalChannel(log zerolog.Logger) *LocalChannel {
	return &LocalChannel{log: log.With().Str("component", "notify").Logger()}
}

func (l *LocalChannel) Name() string {
	return "local"
}

func (l *LocalChannel) Send(_ context.Context, ev Event) error {
	l.log.Info().
		Str("event", ev.Kind).
		Str("pipeline", ev.Pipeline).
		Str("run_id", ev.State.RunID).
		Str("status", string(ev.State.Status)).
		Msg(formatEvent(ev))
	return nil
}
