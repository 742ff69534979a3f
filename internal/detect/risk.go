package detect

// AggregateRisk combines detected threats into one score and level.
// Score is a severity-weighted mean of threat confidences, 0 with no threats.
func AggregateRisk(threats []Threat) (score float64, level RiskLevel) {
	if len(threats) == 0 {
		return 0, RiskLow
	}
	var num, den float64
	for _, t := range threats {
		w := t.Severity.Weight()
		num += t.Confidence * w
		den += w
	}
	score = num / den
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, LevelForScore(score)
}

// LevelForScore maps a risk score to its categorical level. Boundaries are
// inclusive at the bottom of each band.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// OverallConfidence is the mean threat confidence, or 100 for a clean
// verdict (no threats found means full confidence in the clean result).
func OverallConfidence(threats []Threat) float64 {
	if len(threats) == 0 {
		return 100
	}
	sum := 0.0
	for _, t := range threats {
		sum += t.Confidence
	}
	return sum / float64(len(threats))
}

// ActionsFor derives mitigation actions from the risk level. The mapping is
// total and deterministic; an alert is appended whenever any threat was
// detected, independent of level.
func ActionsFor(level RiskLevel, threatDetected bool) []Action {
	var actions []Action
	switch level {
	case RiskCritical:
		actions = append(actions, Action{Type: ActionBlock, Reason: "critical risk score", Duration: 3600, Automatic: true})
	case RiskHigh:
		actions = append(actions, Action{Type: ActionChallenge, Reason: "high risk score", Automatic: true})
	case RiskMedium:
		actions = append(actions, Action{Type: ActionThrottle, Reason: "medium risk score", Duration: 300, Automatic: true})
	default:
		actions = append(actions, Action{Type: ActionMonitor, Reason: "low risk score", Automatic: true})
	}
	if threatDetected {
		actions = append(actions, Action{Type: ActionAlert, Reason: "threats detected", Automatic: true})
	}
	return actions
}
