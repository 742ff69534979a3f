package detect

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestProfileStore_FirstObservationIsBaseline(t *testing.T) {
	s := NewProfileStore(4)
	s.Observe("user-1", Observation{Endpoint: "/home", StatusCode: 200, Duration: 50 * time.Millisecond})

	a, ok := s.Assess("user-1")
	if !ok {
		t.Fatal("profile not created")
	}
	if a.AnomalyScore != 0 {
		t.Errorf("new profile anomaly score = %v, want 0", a.AnomalyScore)
	}
	if a.Requests != 1 {
		t.Errorf("requests = %d, want 1", a.Requests)
	}
}

func TestProfileStore_UnknownIdentity(t *testing.T) {
	s := NewProfileStore(4)
	if _, ok := s.Assess("nobody"); ok {
		t.Error("Assess returned a profile for an unseen identity")
	}
	if _, ok := s.Assess(""); ok {
		t.Error("Assess returned a profile for the empty key")
	}
}

func TestProfileStore_AnomalyScoreFromDeviation(t *testing.T) {
	s := NewProfileStore(4)
	base := time.Now().Add(-time.Hour)

	// slow, successful baseline
	s.Observe("scanner", Observation{Endpoint: "/home", StatusCode: 200, Duration: 40 * time.Millisecond, At: base})

	// rapid error burst across many endpoints
	at := base.Add(30 * time.Minute)
	for i := 0; i < 120; i++ {
		at = at.Add(200 * time.Millisecond)
		s.Observe("scanner", Observation{
			Endpoint:   fmt.Sprintf("/admin/%d", i),
			StatusCode: 404,
			Duration:   200 * time.Millisecond,
			At:         at,
		})
	}

	a, ok := s.Assess("scanner")
	if !ok {
		t.Fatal("profile missing")
	}
	if a.AnomalyScore <= 0 || a.AnomalyScore > 100 {
		t.Fatalf("anomaly score %v out of (0,100]", a.AnomalyScore)
	}
	if a.DistinctEndpoints <= 100 {
		t.Errorf("distinct endpoints = %d, want > 100", a.DistinctEndpoints)
	}
	if a.CurrentErrorRate < 0.5 {
		t.Errorf("error rate = %v, want >= 0.5", a.CurrentErrorRate)
	}
}

func TestProfileStore_EndpointMapBounded(t *testing.T) {
	s := NewProfileStore(4)
	at := time.Now()
	for i := 0; i < maxTrackedEndpoints+200; i++ {
		at = at.Add(time.Second)
		s.Observe("crawler", Observation{Endpoint: fmt.Sprintf("/p/%d", i), StatusCode: 200, At: at})
	}
	a, _ := s.Assess("crawler")
	if a.DistinctEndpoints > maxTrackedEndpoints {
		t.Errorf("endpoint map grew to %d, cap is %d", a.DistinctEndpoints, maxTrackedEndpoints)
	}
}

func TestProfileStore_EvictIdle(t *testing.T) {
	s := NewProfileStore(4)
	s.Observe("stale", Observation{Endpoint: "/a", StatusCode: 200, At: time.Now().Add(-25 * time.Hour)})
	s.Observe("fresh", Observation{Endpoint: "/a", StatusCode: 200, At: time.Now().Add(-time.Hour)})

	evicted := s.EvictIdle(24 * time.Hour)
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, ok := s.Assess("stale"); ok {
		t.Error("profile idle 25h survived eviction")
	}
	if _, ok := s.Assess("fresh"); !ok {
		t.Error("profile idle 1h was evicted")
	}
}

func TestProfileStore_ConcurrentSameKey(t *testing.T) {
	s := NewProfileStore(6)
	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Observe("shared", Observation{Endpoint: "/x", StatusCode: 200})
			}
		}()
	}
	wg.Wait()

	a, ok := s.Assess("shared")
	if !ok {
		t.Fatal("profile missing")
	}
	if a.Requests != writers*perWriter {
		t.Errorf("requests = %d, want %d (no lost updates)", a.Requests, writers*perWriter)
	}
}

func TestEWMA(t *testing.T) {
	got := ewma(10, 20)
	want := 10 + ewmaAlpha*(20-10)
	if got != want {
		t.Errorf("ewma(10,20) = %v, want %v", got, want)
	}
}

func TestRatio_ZeroBaseline(t *testing.T) {
	if r := ratio(0, 0); r != 1 {
		t.Errorf("ratio(0,0) = %v, want 1", r)
	}
	if r := ratio(1, 0); r <= 2 {
		t.Errorf("ratio(1,0) = %v, want large deviation", r)
	}
}
