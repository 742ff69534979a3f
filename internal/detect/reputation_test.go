package detect

import (
	"net/http"
	"testing"
	"time"
)

func intelWith(mutate func(*IntelSnapshot)) *IntelStore {
	s := &IntelStore{}
	snap := NewIntelSnapshot()
	mutate(snap)
	s.Swap(snap)
	return s
}

func TestReputationStrategy_MaliciousIP(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.IPReputation["203.0.113.50"] = Reputation{Score: 15, Confidence: 88, Sources: []string{"feed-a"}}
	})
	s := NewReputationStrategy(intel)

	threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{ClientIP: "203.0.113.50"})
	if len(threats) != 1 {
		t.Fatalf("expected 1 threat, got %d", len(threats))
	}
	th := threats[0]
	if th.Name != "Malicious IP Address" {
		t.Errorf("name = %q", th.Name)
	}
	if th.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high for score 15", th.Severity)
	}
	if th.Confidence != 88 {
		t.Errorf("confidence = %v, want stored 88", th.Confidence)
	}
}

func TestReputationStrategy_CriticalBelowTen(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.IPReputation["203.0.113.51"] = Reputation{Score: 5, Confidence: 95}
	})
	s := NewReputationStrategy(intel)

	threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{ClientIP: "203.0.113.51"})
	if len(threats) != 1 {
		t.Fatalf("expected 1 threat, got %d", len(threats))
	}
	if threats[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical for score 5", threats[0].Severity)
	}
}

func TestReputationStrategy_CleanScoreIgnored(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.IPReputation["203.0.113.52"] = Reputation{Score: 75, Confidence: 90}
	})
	s := NewReputationStrategy(intel)

	if threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{ClientIP: "203.0.113.52"}); len(threats) != 0 {
		t.Errorf("score 75 produced %d threats", len(threats))
	}
}

func TestReputationStrategy_AbsenceIsNotAThreat(t *testing.T) {
	s := NewReputationStrategy(intelWith(func(*IntelSnapshot) {}))
	rc := RequestContext{ClientIP: "198.51.100.99", UserAgent: "Mozilla/5.0", UserID: "alice"}
	if threats := s.Detect(MatchInput{Headers: http.Header{}}, rc); len(threats) != 0 {
		t.Errorf("empty intel produced %d threats", len(threats))
	}
}

func TestReputationStrategy_BotUserAgent(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.BotUserAgents["badbot/1.0"] = struct{}{}
	})
	s := NewReputationStrategy(intel)

	threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{UserAgent: "badbot/1.0"})
	if len(threats) != 1 {
		t.Fatalf("expected 1 threat, got %d", len(threats))
	}
	th := threats[0]
	if th.Category != CategoryBot || th.Severity != SeverityHigh || th.Confidence != 90 {
		t.Errorf("bot threat = %s/%s/%v, want bot/high/90", th.Category, th.Severity, th.Confidence)
	}

	// exact match only
	if threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{UserAgent: "badbot/1.0 extra"}); len(threats) != 0 {
		t.Errorf("partial UA match produced %d threats", len(threats))
	}
}

func TestReputationStrategy_MaliciousRefererDomain(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.MaliciousDomains["evil.example"] = struct{}{}
	})
	s := NewReputationStrategy(intel)

	h := http.Header{}
	h.Set("Referer", "https://phish.evil.example/login")
	threats := s.Detect(MatchInput{Headers: h}, RequestContext{})
	if len(threats) != 1 {
		t.Fatalf("expected 1 threat for subdomain of listed domain, got %d", len(threats))
	}
	if threats[0].Category != CategoryPhishing {
		t.Errorf("category = %s, want phishing", threats[0].Category)
	}
}

func TestReputationStrategy_CompromisedCredential(t *testing.T) {
	intel := intelWith(func(snap *IntelSnapshot) {
		snap.CompromisedCreds["mallory"] = time.Now()
	})
	s := NewReputationStrategy(intel)

	threats := s.Detect(MatchInput{Headers: http.Header{}}, RequestContext{UserID: "mallory"})
	if len(threats) != 1 {
		t.Fatalf("expected 1 threat, got %d", len(threats))
	}
	if threats[0].Category != CategoryBruteForce {
		t.Errorf("category = %s, want brute_force", threats[0].Category)
	}
}
