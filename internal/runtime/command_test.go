package runtime

import (
	"testing"
)

func TestSplitMetadata(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantText    string
		wantOutputs map[string]any
		wantTokens  bool
	}{
		{
			name:     "no metadata",
			in:       "plain answer\n",
			wantText: "plain answer\n",
		},
		{
			name:        "trailing metadata line",
			in:          "the answer\n{\"outputs\":{\"passed\":true}}",
			wantText:    "the answer\n",
			wantOutputs: map[string]any{"passed": true},
		},
		{
			name:       "token usage only",
			in:         "done\n{\"tokenUsage\":{\"actual_input\":10,\"output\":5}}",
			wantText:   "done\n",
			wantTokens: true,
		},
		{
			name:     "json-looking but invalid stays text",
			in:       "result\n{not json}",
			wantText: "result\n{not json}",
		},
		{
			name:     "empty json object is not metadata",
			in:       "result\n{}",
			wantText: "result\n{}",
		},
		{
			name:        "metadata only",
			in:          "{\"outputs\":{\"n\":2}}",
			wantText:    "",
			wantOutputs: map[string]any{"n": 2.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, meta := splitMetadata(tt.in)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if tt.wantOutputs == nil && !tt.wantTokens {
				if meta != nil {
					t.Errorf("unexpected metadata: %+v", meta)
				}
				return
			}
			if meta == nil {
				t.Fatal("expected metadata")
			}
			for k, v := range tt.wantOutputs {
				if meta.Outputs[k] != v {
					t.Errorf("outputs[%s] = %v, want %v", k, meta.Outputs[k], v)
				}
			}
			if tt.wantTokens {
				if meta.TokenUsage == nil || meta.TokenUsage.ActualInput != 10 || meta.TokenUsage.Output != 5 {
					t.Errorf("tokenUsage = %+v", meta.TokenUsage)
				}
			}
		})
	}
}

func TestNewCommandRuntimeDefaults(t *testing.T) {
	rt := NewCommandRuntime("claude", nil)
	if rt.Name() != "claude" {
		t.Errorf("name = %q", rt.Name())
	}
	caps := rt.Capabilities()
	if !caps.Streaming || !caps.TokenTracking || !caps.PermissionModes {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestRegistry(t *testing.T) {
	Register(NewCommandRuntime("test-rt", []string{"true"}))
	rt, err := Get("test-rt")
	if err != nil || rt.Name() != "test-rt" {
		t.Fatalf("Get: %v", err)
	}

	if _, err := Get("absent"); err == nil {
		t.Fatal("expected error for unregistered runtime")
	}
}
