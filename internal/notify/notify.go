// Package notify fans pipeline events out to configured channels. Channel
// failures never fail a pipeline; they are reported back for logging.
package notify

import (
	"context"
	"fmt"

	"github.com/agentpipe/agentpipe/internal/state"
)

// Event kinds emitted by the engine.
const (
	EventPipelineStarted   = "pipeline.started"
	EventPipelineCompleted = "pipeline.completed"
	EventPipelineFailed    = "pipeline.failed"
	EventGroupCompleted    = "group.completed"
)

// Event is one notification payload. State is a snapshot owned by the
// receiver; channels must not mutate it.
type Event struct {
	Kind       string
	Pipeline   string
	State      *state.PipelineState
	Executions []state.StageExecution // group-level events only
}

// Channel delivers an event somewhere.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// ChannelError pairs a failed channel with its error.
type ChannelError struct {
	Channel string
	Err     error
}

func (e ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

// Notifier fans events out to every channel and collects failures.
type Notifier struct {
	channels []Channel
}

// NewNotifier creates a Notifier over the given channels.
func NewNotifier(channels ...Channel) *Notifier {
	return &Notifier{channels: channels}
}

// Notify sends ev to all channels. The returned slice holds one entry per
// failed channel; delivery to the rest still happened.
func (n *Notifier) Notify(ctx context.Context, ev Event) []ChannelError {
	var failures []ChannelError
	for _, ch := range n.channels {
		if err := ch.Send(ctx, ev); err != nil {
			failures = append(failures, ChannelError{Channel: ch.Name(), Err: err})
		}
	}
	return failures
}
