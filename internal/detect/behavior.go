package detect

import (
	"fmt"
	"time"
)

// BehaviorStrategy compares an identity's current behavior against its
// baseline and the intel feed's attack patterns. It reads the profile store;
// mutation happens separately in Engine.RecordOutcome.
type BehaviorStrategy struct {
	profiles *ProfileStore
	intel    *IntelStore
}

func NewBehaviorStrategy(profiles *ProfileStore, intel *IntelStore) *BehaviorStrategy {
	return &BehaviorStrategy{profiles: profiles, intel: intel}
}

func (s *BehaviorStrategy) Name() string { return "behavioral_analyzer" }

func (s *BehaviorStrategy) Detect(in MatchInput, rc RequestContext) []Threat {
	a, ok := s.profiles.Assess(rc.Identity())
	if !ok {
		return nil
	}

	var evidence []Evidence
	if a.RateRatio > 10 {
		evidence = append(evidence, Evidence{
			Type:        EvidenceBehavioral,
			Description: "extremely high request rate",
			Value:       fmt.Sprintf("%.1fx baseline (%.1f req/min)", a.RateRatio, a.RequestRate),
			Confidence:  a.AnomalyScore,
			Source:      s.Name(),
		})
	}
	if a.CurrentErrorRate > 0.5 {
		evidence = append(evidence, Evidence{
			Type:        EvidenceBehavioral,
			Description: "probing behavior",
			Value:       fmt.Sprintf("error rate %.0f%%", a.CurrentErrorRate*100),
			Confidence:  a.AnomalyScore,
			Source:      s.Name(),
		})
	}
	if a.DistinctEndpoints > 100 {
		evidence = append(evidence, Evidence{
			Type:        EvidenceBehavioral,
			Description: "endpoint scanning",
			Value:       fmt.Sprintf("%d distinct endpoints", a.DistinctEndpoints),
			Confidence:  a.AnomalyScore,
			Source:      s.Name(),
		})
	}
	evidence = append(evidence, s.attackPatternFindings(a)...)

	if len(evidence) == 0 {
		return nil
	}
	// An attack-pattern hit can fire with no baseline deviation; the threat
	// confidence follows the strongest evidence so it never drops to zero.
	conf := a.AnomalyScore
	for _, ev := range evidence {
		if ev.Confidence > conf {
			conf = ev.Confidence
		}
	}
	sev := SeverityMedium
	if conf > 80 {
		sev = SeverityHigh
	}
	return []Threat{{
		ID:         "behavior-" + a.Key,
		Name:       "Behavioral Anomaly",
		Category:   CategoryBot,
		Severity:   sev,
		Confidence: conf,
		Evidence:   evidence,
		Mitigation: mitigationFor(CategoryBot),
	}}
}

// attackPatternConfidence scores a feed-pattern hit on its own. The feed's
// threshold already filtered noise, so a hit is a strong signal even when
// the profile shows no baseline deviation.
const attackPatternConfidence = 70

// attackPatternFindings matches the intel feed's rate-based indicators
// against the profile's windowed endpoint counts. Window resolution is the
// profile's hourly counter, so sub-hour pattern windows are approximate.
func (s *BehaviorStrategy) attackPatternFindings(a Assessment) []Evidence {
	var out []Evidence
	for _, ap := range s.intel.Current().AttackPatterns {
		if ap.Threshold <= 0 || len(ap.Indicators) == 0 {
			continue
		}
		hits := 0
		for ep, n := range a.Endpoints {
			if matchesIndicator(ep, ap.Indicators) {
				hits += n
			}
		}
		if hits >= ap.Threshold && a.WindowAge <= maxWindow(ap.Window) {
			out = append(out, Evidence{
				Type:        EvidenceBehavioral,
				Description: "attack pattern " + ap.ID,
				Value:       fmt.Sprintf("%d hits, threshold %d", hits, ap.Threshold),
				Confidence:  attackPatternConfidence,
				Source:      s.Name(),
			})
		}
	}
	return out
}

func maxWindow(w time.Duration) time.Duration {
	if w < time.Hour {
		return time.Hour
	}
	return w
}
