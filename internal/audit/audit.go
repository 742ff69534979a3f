// Package audit delivers structured security events to an external sink.
// Delivery is fire and forget: failures are logged locally and never reach
// the detection hot path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event is one structured security event.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"event_type"`
	Severity  string            `json:"severity"`
	Identity  string            `json:"identity,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"ts"`
}

// Sink accepts events. Implementations must not block the caller on
// delivery problems and must not return errors.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Subject is the NATS subject detection events are published on.
const Subject = "sentry.audit.detection"

// NATSSink publishes events as JSON over NATS.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = Subject
	}
	return &NATSSink{nc: nc, subject: subject}
}

func (s *NATSSink) Emit(ctx context.Context, ev Event) {
	fill(&ev)
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("audit event marshal failed", "error", err, "type", ev.Type)
		return
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		slog.Warn("audit publish failed", "error", err, "subject", s.subject, "type", ev.Type)
	}
}

// LogSink writes events to the local structured log. Used when no broker is
// configured and as the fallback sink in tests.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, ev Event) {
	fill(&ev)
	slog.Info("audit event",
		"id", ev.ID,
		"type", ev.Type,
		"severity", ev.Severity,
		"identity", ev.Identity,
		"ip", ev.IP,
		"url", ev.URL,
		"method", ev.Method,
		"outcome", ev.Outcome,
		"source", ev.Source,
	)
}

func fill(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
}
