package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleFeed = `{
	"ip_reputation": [
		{"ip": "203.0.113.5", "score": 8, "confidence": 92, "sources": ["feed-a"], "categories": ["botnet"]},
		{"ip": "203.0.113.6", "score": 150, "confidence": -3}
	],
	"malicious_domains": ["evil.example"],
	"bot_user_agents": ["badbot/2.0"],
	"compromised_credentials": ["mallory"],
	"attack_patterns": [
		{"id": "cred-stuffing", "indicators": ["/login"], "window_seconds": 3600, "threshold": 50}
	]
}`

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL, "secret").Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	rep, ok := snap.IPReputation["203.0.113.5"]
	if !ok {
		t.Fatal("ip reputation entry missing")
	}
	if rep.Score != 8 || rep.Confidence != 92 {
		t.Errorf("reputation = %+v", rep)
	}
	// out-of-range values clamped
	clamped := snap.IPReputation["203.0.113.6"]
	if clamped.Score != 100 || clamped.Confidence != 0 {
		t.Errorf("clamped reputation = %+v", clamped)
	}
	if _, ok := snap.MaliciousDomains["evil.example"]; !ok {
		t.Error("malicious domain missing")
	}
	if _, ok := snap.BotUserAgents["badbot/2.0"]; !ok {
		t.Error("bot user agent missing")
	}
	if _, ok := snap.CompromisedCreds["mallory"]; !ok {
		t.Error("compromised credential missing")
	}
	if len(snap.AttackPatterns) != 1 {
		t.Fatalf("attack patterns = %d, want 1", len(snap.AttackPatterns))
	}
	ap := snap.AttackPatterns[0]
	if ap.ID != "cred-stuffing" || ap.Window != time.Hour || ap.Threshold != 50 {
		t.Errorf("attack pattern = %+v", ap)
	}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").Fetch(context.Background()); err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_AuthFailureIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "wrong").Fetch(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls.Load())
	}
}

func TestClient_MalformedBodyIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").Fetch(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on parse failure)", calls.Load())
	}
}
