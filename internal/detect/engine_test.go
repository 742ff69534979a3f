package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/netsentry/threatdetect/internal/audit"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func cleanRequest() (*http.Request, RequestContext) {
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/products?id=42", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	req.Header.Set("Accept", "text/html")
	rc := RequestContext{
		ClientIP:  "198.51.100.10",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		Country:   "DE",
	}
	return req, rc
}

func TestEngine_CleanRequest(t *testing.T) {
	sink := &captureSink{}
	e := NewEngine(Options{Sink: sink})
	req, rc := cleanRequest()

	res := e.AnalyzeRequest(context.Background(), req, rc)

	if res.ThreatDetected {
		t.Error("clean request flagged as threat")
	}
	if len(res.Threats) != 0 {
		t.Errorf("threats = %d, want 0", len(res.Threats))
	}
	if res.RiskScore != 0 {
		t.Errorf("risk score = %v, want 0", res.RiskScore)
	}
	if res.RiskLevel != RiskLow {
		t.Errorf("risk level = %s, want low", res.RiskLevel)
	}
	if len(res.Actions) != 0 {
		t.Errorf("actions = %v, want none", res.Actions)
	}
	if res.Confidence != 100 {
		t.Errorf("confidence = %v, want 100", res.Confidence)
	}
	if sink.count() != 0 {
		t.Errorf("clean request emitted %d audit events", sink.count())
	}
	if e.History().Len() != 1 {
		t.Errorf("history len = %d, want 1", e.History().Len())
	}
}

func TestEngine_TraversalDetectedAndAudited(t *testing.T) {
	sink := &captureSink{}
	e := NewEngine(Options{Sink: sink})
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/download?file=../../etc/passwd", nil)
	rc := RequestContext{ClientIP: "203.0.113.20", UserAgent: "Mozilla/5.0"}

	res := e.AnalyzeRequest(context.Background(), req, rc)

	if !res.ThreatDetected {
		t.Fatal("traversal request not detected")
	}
	if res.RiskScore <= 0 || res.RiskScore > 100 {
		t.Errorf("risk score %v out of (0,100]", res.RiskScore)
	}
	hasAlert := false
	for _, a := range res.Actions {
		if a.Type == ActionAlert {
			hasAlert = true
		}
	}
	if !hasAlert {
		t.Error("alert action missing on detected threat")
	}
	if sink.count() != 1 {
		t.Errorf("audit events = %d, want 1", sink.count())
	}
}

func TestEngine_Idempotent(t *testing.T) {
	e := NewEngine(Options{Sink: &captureSink{}})
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/download?file=../../etc/passwd", nil)
	rc := RequestContext{ClientIP: "203.0.113.21", UserAgent: "Mozilla/5.0"}

	// no RecordOutcome between calls, so stores are unchanged
	a := e.AnalyzeRequest(context.Background(), req, rc)
	b := e.AnalyzeRequest(context.Background(), req, rc)

	if !reflect.DeepEqual(a.Threats, b.Threats) {
		t.Errorf("threats differ between identical calls:\n%v\n%v", a.Threats, b.Threats)
	}
	if a.RiskScore != b.RiskScore {
		t.Errorf("risk score differs: %v vs %v", a.RiskScore, b.RiskScore)
	}
	if a.RiskLevel != b.RiskLevel {
		t.Errorf("risk level differs: %s vs %s", a.RiskLevel, b.RiskLevel)
	}
}

func TestEngine_MultiSignatureOrderStable(t *testing.T) {
	e := NewEngine(Options{Sink: &captureSink{}})
	req := httptest.NewRequest(http.MethodGet,
		"https://shop.example/download?file=../../etc/passwd&q=union%20select", nil)
	rc := RequestContext{ClientIP: "203.0.113.23", UserAgent: "Mozilla/5.0"}

	ids := func(res Result) []string {
		out := make([]string, len(res.Threats))
		for i, th := range res.Threats {
			out[i] = th.ID
		}
		return out
	}

	first := ids(e.AnalyzeRequest(context.Background(), req, rc))
	seen := map[string]bool{}
	for _, id := range first {
		seen[id] = true
	}
	if !seen["sig-sqli-001"] || !seen["sig-traversal-001"] {
		t.Fatalf("expected both signatures to fire, got %v", first)
	}
	for n := 0; n < 50; n++ {
		if got := ids(e.AnalyzeRequest(context.Background(), req, rc)); !reflect.DeepEqual(got, first) {
			t.Fatalf("iteration %d: threat order changed: %v vs %v", n, got, first)
		}
	}
}

func TestEngine_RecordOutcomeBuildsProfile(t *testing.T) {
	e := NewEngine(Options{Sink: &captureSink{}})
	rc := RequestContext{ClientIP: "198.51.100.30", UserAgent: "Mozilla/5.0"}

	e.RecordOutcome(rc, Observation{Endpoint: "/home", StatusCode: 200})
	if _, ok := e.Profiles().Assess(rc.Identity()); !ok {
		t.Error("profile not created after RecordOutcome")
	}
}

func TestEngine_FailureResult(t *testing.T) {
	open := NewEngine(Options{Sink: &captureSink{}})
	res := open.failureResult(time.Now())
	if res.ThreatDetected || res.RiskLevel != RiskLow || len(res.Actions) != 0 || res.Confidence != 0 {
		t.Errorf("fail-open result = %+v", res)
	}

	closed := NewEngine(Options{Sink: &captureSink{}, FailClosed: true})
	res = closed.failureResult(time.Now())
	if !res.ThreatDetected || res.RiskLevel != RiskCritical {
		t.Errorf("fail-closed result = %+v", res)
	}
	hasBlock := false
	for _, a := range res.Actions {
		if a.Type == ActionBlock {
			hasBlock = true
		}
	}
	if !hasBlock {
		t.Error("fail-closed result missing block action")
	}
}

func TestEngine_StrategyPanicIsolated(t *testing.T) {
	e := NewEngine(Options{Sink: &captureSink{}})
	e.strategies = append(e.strategies, panicStrategy{})
	req := httptest.NewRequest(http.MethodGet, "https://shop.example/download?file=../../etc/passwd", nil)

	res := e.AnalyzeRequest(context.Background(), req, RequestContext{ClientIP: "203.0.113.22"})
	if !res.ThreatDetected {
		t.Error("panicking strategy suppressed findings from healthy strategies")
	}
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic_strategy" }
func (panicStrategy) Detect(MatchInput, RequestContext) []Threat {
	panic("boom")
}
