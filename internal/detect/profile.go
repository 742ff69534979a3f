package detect

import (
	"strings"
	"sync"
	"time"
)

// ewmaAlpha controls how fast current stats track recent behavior. The
// original design accumulated counters forever; an exponential moving
// average keeps long-lived identities reflecting recent traffic instead.
const ewmaAlpha = 0.3

// maxTrackedEndpoints bounds the per-profile endpoint map.
const maxTrackedEndpoints = 512

// Stats is one set of behavioral measurements, used for both the fixed
// baseline and the moving current view.
type Stats struct {
	RequestRate    float64 // requests per minute
	ErrorRate      float64 // 0..1
	ResponseTimeMs float64
	Endpoints      map[string]int
	Countries      map[string]struct{}
	SessionLength  time.Duration
}

func newStats() Stats {
	return Stats{
		Endpoints: make(map[string]int),
		Countries: make(map[string]struct{}),
	}
}

func (s Stats) clone() Stats {
	c := s
	c.Endpoints = make(map[string]int, len(s.Endpoints))
	for k, v := range s.Endpoints {
		c.Endpoints[k] = v
	}
	c.Countries = make(map[string]struct{}, len(s.Countries))
	for k := range s.Countries {
		c.Countries[k] = struct{}{}
	}
	return c
}

// Observation is what the caller reports after a request completes.
type Observation struct {
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Country    string
	UserAgent  string
	At         time.Time
}

// Profile holds per-identity behavioral state. All fields are guarded by the
// owning shard's lock.
type Profile struct {
	Key          string
	UserAgent    string
	Country      string
	Baseline     Stats
	Current      Stats
	AnomalyScore float64 // 0..100
	CreatedAt    time.Time
	LastSeen     time.Time

	requests     uint64
	errors       uint64
	windowStart  time.Time
	windowHits   int
	sessionStart time.Time
}

// Assessment is the read-side copy the behavioral analyzer works from.
// It is detached from the live profile, so no lock is held while scoring.
type Assessment struct {
	Key               string
	AnomalyScore      float64
	RateRatio         float64
	ErrorRatio        float64
	ResponseRatio     float64
	DistinctEndpoints int
	CurrentErrorRate  float64
	RequestRate       float64
	WindowHits        int
	WindowAge         time.Duration
	Endpoints         map[string]int
	Requests          uint64
}

// ProfileStore is a lock-striped map of behavioral profiles. Updates for one
// identity serialize on its shard lock; identities in different shards
// proceed in parallel. No I/O happens under a shard lock.
type ProfileStore struct {
	shards []profileShard
	mask   uint32
}

type profileShard struct {
	mu sync.RWMutex
	m  map[string]*Profile
}

// NewProfileStore creates a store with 2^shardPow shards (capped at 1024).
func NewProfileStore(shardPow uint8) *ProfileStore {
	if shardPow > 10 {
		shardPow = 10
	}
	n := 1 << shardPow
	s := &ProfileStore{mask: uint32(n - 1)}
	s.shards = make([]profileShard, n)
	for i := 0; i < n; i++ {
		s.shards[i].m = make(map[string]*Profile)
	}
	return s
}

func (s *ProfileStore) shardFor(key string) *profileShard {
	return &s.shards[fnv32(key)&s.mask]
}

// Observe creates the profile on first sight (baseline = current = first
// observation) and EWMA-updates it afterwards, recomputing the anomaly
// score. This is the only write path.
func (s *ProfileStore) Observe(key string, obs Observation) {
	if key == "" {
		return
	}
	if obs.At.IsZero() {
		obs.At = time.Now()
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.m[key]
	if !ok {
		p = newProfile(key, obs)
		sh.m[key] = p
		return
	}
	p.update(obs)
}

func newProfile(key string, obs Observation) *Profile {
	p := &Profile{
		Key:          key,
		UserAgent:    obs.UserAgent,
		Country:      obs.Country,
		CreatedAt:    obs.At,
		LastSeen:     obs.At,
		requests:     1,
		windowStart:  obs.At,
		windowHits:   1,
		sessionStart: obs.At,
	}
	st := newStats()
	st.RequestRate = 1
	st.ResponseTimeMs = float64(obs.Duration.Milliseconds())
	if obs.StatusCode >= 400 {
		st.ErrorRate = 1
		p.errors = 1
	}
	if obs.Endpoint != "" {
		st.Endpoints[obs.Endpoint] = 1
	}
	if obs.Country != "" {
		st.Countries[obs.Country] = struct{}{}
	}
	p.Baseline = st
	p.Current = st.clone()
	return p
}

func (p *Profile) update(obs Observation) {
	gap := obs.At.Sub(p.LastSeen)
	if gap <= 0 {
		gap = time.Millisecond
	}
	instRate := float64(time.Minute) / float64(gap)
	if instRate > 10000 {
		instRate = 10000
	}
	errVal := 0.0
	if obs.StatusCode >= 400 {
		errVal = 1
		p.errors++
	}
	p.requests++
	cur := &p.Current
	cur.RequestRate = ewma(cur.RequestRate, instRate)
	cur.ErrorRate = ewma(cur.ErrorRate, errVal)
	cur.ResponseTimeMs = ewma(cur.ResponseTimeMs, float64(obs.Duration.Milliseconds()))
	if obs.Endpoint != "" {
		if _, seen := cur.Endpoints[obs.Endpoint]; seen || len(cur.Endpoints) < maxTrackedEndpoints {
			cur.Endpoints[obs.Endpoint]++
		}
	}
	if obs.Country != "" {
		cur.Countries[obs.Country] = struct{}{}
	}
	cur.SessionLength = obs.At.Sub(p.sessionStart)

	// hourly-resolution request window, used for attack-pattern thresholds
	if obs.At.Sub(p.windowStart) > time.Hour {
		p.windowStart = obs.At
		p.windowHits = 0
	}
	p.windowHits++

	p.LastSeen = obs.At
	p.AnomalyScore = anomalyScore(p.Baseline, *cur)
}

func ewma(prev, sample float64) float64 {
	return prev + ewmaAlpha*(sample-prev)
}

// anomalyScore is a capped sum of deviation signals between baseline and
// current stats.
func anomalyScore(base, cur Stats) float64 {
	score := 0.0
	if ratio(cur.RequestRate, base.RequestRate) > 2 {
		score += 30
	}
	if ratio(cur.ErrorRate, base.ErrorRate) > 3 {
		score += 25
	}
	if ratio(cur.ResponseTimeMs, base.ResponseTimeMs) > 2 {
		score += 20
	}
	if len(cur.Endpoints) > 50 {
		score += 25
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ratio guards against zero baselines: a zero baseline with nonzero current
// reads as a large deviation, zero against zero as none.
func ratio(cur, base float64) float64 {
	if base <= 0 {
		if cur <= 0 {
			return 1
		}
		return cur / 0.01
	}
	return cur / base
}

// Assess returns a detached view for the behavioral analyzer, or false when
// the identity has no history yet.
func (s *ProfileStore) Assess(key string) (Assessment, bool) {
	if key == "" {
		return Assessment{}, false
	}
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.m[key]
	if !ok {
		return Assessment{}, false
	}
	eps := make(map[string]int, len(p.Current.Endpoints))
	for k, v := range p.Current.Endpoints {
		eps[k] = v
	}
	return Assessment{
		Key:               p.Key,
		AnomalyScore:      p.AnomalyScore,
		RateRatio:         ratio(p.Current.RequestRate, p.Baseline.RequestRate),
		ErrorRatio:        ratio(p.Current.ErrorRate, p.Baseline.ErrorRate),
		ResponseRatio:     ratio(p.Current.ResponseTimeMs, p.Baseline.ResponseTimeMs),
		DistinctEndpoints: len(p.Current.Endpoints),
		CurrentErrorRate:  p.Current.ErrorRate,
		RequestRate:       p.Current.RequestRate,
		WindowHits:        p.windowHits,
		WindowAge:         time.Since(p.windowStart),
		Endpoints:         eps,
		Requests:          p.requests,
	}, true
}

// EvictIdle removes profiles whose last activity is older than maxIdle.
func (s *ProfileStore) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, p := range sh.m {
			if p.LastSeen.Before(cutoff) {
				delete(sh.m, k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len reports the number of tracked identities.
func (s *ProfileStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// matchesIndicator reports whether an endpoint path contains any of the
// pattern's indicators.
func matchesIndicator(endpoint string, indicators []string) bool {
	lo := strings.ToLower(endpoint)
	for _, ind := range indicators {
		if ind != "" && strings.Contains(lo, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	const prime = 16777619
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
