package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/state"
)

func sampleEvent(kind string) Event {
	return Event{
		Kind:     kind,
		Pipeline: "ci",
		State: &state.PipelineState{
			RunID:     "run-1",
			Status:    state.RunCompleted,
			Artifacts: state.Artifacts{TotalDuration: 3 * time.Second},
		},
		Executions: []state.StageExecution{
			{StageName: "a", Status: state.StageSuccess},
			{StageName: "b", Status: state.StageFailed},
		},
	}
}

type stubChannel struct {
	name string
	err  error
	sent []Event
}

func (c *stubChannel) Name() string { return c.name }
func (c *stubChannel) Send(_ context.Context, ev Event) error {
	c.sent = append(c.sent, ev)
	return c.err
}

func TestNotifierCollectsFailuresAndKeepsSending(t *testing.T) {
	bad := &stubChannel{name: "bad", err: fmt.Errorf("boom")}
	good := &stubChannel{name: "good"}
	n := NewNotifier(bad, good)

	failures := n.Notify(context.Background(), sampleEvent(EventPipelineCompleted))
	if len(failures) != 1 || failures[0].Channel != "bad" {
		t.Fatalf("failures = %v", failures)
	}
	if len(good.sent) != 1 {
		t.Error("a failing channel must not block the others")
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{EventPipelineStarted, "run-1"},
		{EventPipelineCompleted, "completed in 3s"},
		{EventPipelineFailed, "status completed"},
		{EventGroupCompleted, "1/2 stages succeeded"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got := formatEvent(sampleEvent(tt.kind))
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatEvent(%s) = %q, want substring %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestSlackChannelPostsJSON(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	if err := ch.Send(context.Background(), sampleEvent(EventPipelineCompleted)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(body["text"], "ci") {
		t.Errorf("payload text = %q", body["text"])
	}
}

func TestSlackChannelNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewSlackChannel(srv.URL).Send(context.Background(), sampleEvent(EventPipelineFailed)); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestLocalChannelNeverFails(t *testing.T) {
	ch := NewLocalChannel(zerolog.Nop())
	if err := ch.Send(context.Background(), sampleEvent(EventPipelineFailed)); err != nil {
		t.Errorf("local channel returned %v", err)
	}
}

func TestEmailChannelNoRecipients(t *testing.T) {
	ch := NewEmailChannel(nil, "", "true")
	if err := ch.Send(context.Background(), sampleEvent(EventPipelineCompleted)); err == nil {
		t.Fatal("expected error with no recipients")
	}
}
