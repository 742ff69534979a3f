package audit

import (
	"context"
	"testing"
)

func TestFill(t *testing.T) {
	ev := Event{Type: "threat_detected", Source: "test"}
	fill(&ev)
	if ev.ID == "" {
		t.Error("id not assigned")
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}

	// existing values are preserved
	before := ev
	fill(&ev)
	if ev.ID != before.ID || !ev.Timestamp.Equal(before.Timestamp) {
		t.Error("fill overwrote populated fields")
	}
}

func TestLogSink_NeverFails(t *testing.T) {
	// the sink contract: no error return, no panic, even on empty events
	var s LogSink
	s.Emit(context.Background(), Event{})
	s.Emit(context.Background(), Event{
		Type:     "threat_detected",
		Severity: "high",
		Identity: "user-1",
		Details:  map[string]string{"risk_score": "85.0"},
	})
}
