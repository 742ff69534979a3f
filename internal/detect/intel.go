package detect

import (
	"strings"
	"sync/atomic"
	"time"
)

// Reputation is externally sourced trust data for one IP.
// Score runs 0 (malicious) to 100 (clean).
type Reputation struct {
	Score      float64   `json:"score"`
	Categories []string  `json:"categories,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
	Sources    []string  `json:"sources,omitempty"`
	Confidence float64   `json:"confidence"` // 0..100
}

// AttackPattern describes a rate-based indicator from the intel feed:
// more than Threshold hits on any indicator within Window.
type AttackPattern struct {
	ID         string        `json:"id"`
	Indicators []string      `json:"indicators"`
	Window     time.Duration `json:"window"`
	Threshold  int           `json:"threshold"`
}

// IntelSnapshot is one immutable view of the threat intelligence aggregate.
// Refreshes build a new snapshot and swap it in whole.
type IntelSnapshot struct {
	IPReputation     map[string]Reputation
	MaliciousDomains map[string]struct{}
	BotUserAgents    map[string]struct{}
	CompromisedCreds map[string]time.Time
	AttackPatterns   []AttackPattern
	UpdatedAt        time.Time
}

// NewIntelSnapshot returns an empty snapshot with all maps allocated.
func NewIntelSnapshot() *IntelSnapshot {
	return &IntelSnapshot{
		IPReputation:     make(map[string]Reputation),
		MaliciousDomains: make(map[string]struct{}),
		BotUserAgents:    make(map[string]struct{}),
		CompromisedCreds: make(map[string]time.Time),
		UpdatedAt:        time.Now().UTC(),
	}
}

// IntelStore hands out the current snapshot without locking the hot path.
type IntelStore struct {
	cur atomic.Pointer[IntelSnapshot]
}

// NewIntelStore returns a store seeded with the built-in bot fingerprints.
func NewIntelStore() *IntelStore {
	s := &IntelStore{}
	snap := NewIntelSnapshot()
	for _, ua := range defaultBotUserAgents {
		snap.BotUserAgents[ua] = struct{}{}
	}
	s.cur.Store(snap)
	return s
}

// Current returns the live snapshot. Callers must not mutate it.
func (s *IntelStore) Current() *IntelSnapshot {
	return s.cur.Load()
}

// Swap installs a refreshed snapshot atomically.
func (s *IntelStore) Swap(snap *IntelSnapshot) {
	if snap == nil {
		return
	}
	snap.UpdatedAt = time.Now().UTC()
	s.cur.Store(snap)
}

// LookupIP returns reputation data for an IP, if any source reported it.
func (s *IntelStore) LookupIP(ip string) (Reputation, bool) {
	rep, ok := s.Current().IPReputation[ip]
	return rep, ok
}

// IsBotUserAgent reports an exact match against the known-bot set.
func (s *IntelStore) IsBotUserAgent(ua string) bool {
	_, ok := s.Current().BotUserAgents[ua]
	return ok
}

// IsMaliciousDomain checks a hostname against the malicious-domain set,
// including parent domains (a.b.evil.com matches evil.com).
func (s *IntelStore) IsMaliciousDomain(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	snap := s.Current()
	for host != "" {
		if _, ok := snap.MaliciousDomains[host]; ok {
			return true
		}
		i := strings.Index(host, ".")
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}

// IsCompromised reports whether a user ID appears in a credential dump.
func (s *IntelStore) IsCompromised(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := s.Current().CompromisedCreds[userID]
	return ok
}

var defaultBotUserAgents = []string{
	"python-requests/2.31.0",
	"curl/7.88.1",
	"Go-http-client/1.1",
	"Scrapy/2.11 (+https://scrapy.org)",
	"zgrab/0.x",
}
