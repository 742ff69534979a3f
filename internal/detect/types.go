package detect

import (
	"time"
)

// Severity classifies how damaging a signature or finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates an external severity string. Unknown values fall
// back to medium rather than being carried through unchecked.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// Weight returns the aggregation weight used by risk scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 2
	}
}

// Category enumerates threat classes known to the engine.
type Category string

const (
	CategoryMalware      Category = "malware"
	CategoryPhishing     Category = "phishing"
	CategoryBot          Category = "bot"
	CategoryDDoS         Category = "ddos"
	CategoryInjection    Category = "injection"
	CategoryBruteForce   Category = "brute_force"
	CategoryExfiltration Category = "data_exfiltration"
)

// ParseCategory validates an external category string, falling back to bot.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryMalware, CategoryPhishing, CategoryBot, CategoryDDoS,
		CategoryInjection, CategoryBruteForce, CategoryExfiltration:
		return Category(s)
	default:
		return CategoryBot
	}
}

// RiskLevel is the categorical verdict derived from the aggregate risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ActionType enumerates mitigation actions the enforcement layer understands.
type ActionType string

const (
	ActionBlock     ActionType = "block"
	ActionChallenge ActionType = "challenge"
	ActionMonitor   ActionType = "monitor"
	ActionThrottle  ActionType = "throttle"
	ActionAlert     ActionType = "alert"
)

// EvidenceType tags where a piece of evidence came from.
type EvidenceType string

const (
	EvidencePatternMatch EvidenceType = "pattern_match"
	EvidenceAnomaly      EvidenceType = "anomaly"
	EvidenceReputation   EvidenceType = "reputation"
	EvidenceBehavioral   EvidenceType = "behavioral"
)

// RequestContext carries the normalized request attributes extracted upstream.
// The engine never parses cookies or tokens itself.
type RequestContext struct {
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`
	Country   string `json:"country,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Identity returns the behavioral profile key: user ID when authenticated,
// otherwise the client IP.
func (rc RequestContext) Identity() string {
	if rc.UserID != "" {
		return rc.UserID
	}
	return rc.ClientIP
}

// Evidence is one observation supporting a detected threat.
type Evidence struct {
	Type        EvidenceType `json:"type"`
	Description string       `json:"description"`
	Value       string       `json:"value"` // truncated, never raw payload
	Confidence  float64      `json:"confidence"`
	Source      string       `json:"source"`
}

// Threat is a single detection finding with its supporting evidence.
type Threat struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Category   Category   `json:"category"`
	Severity   Severity   `json:"severity"`
	Confidence float64    `json:"confidence"` // 0..100
	Evidence   []Evidence `json:"evidence"`
	Mitigation []string   `json:"mitigation,omitempty"`
}

// Action is one recommended mitigation step.
type Action struct {
	Type      ActionType `json:"type"`
	Reason    string     `json:"reason"`
	Duration  int        `json:"duration_seconds,omitempty"`
	Automatic bool       `json:"automatic"`
}

// Result is the verdict for one analyzed request.
type Result struct {
	ID             string        `json:"id"`
	ThreatDetected bool          `json:"threat_detected"`
	Threats        []Threat      `json:"threats"`
	RiskScore      float64       `json:"risk_score"` // 0..100
	RiskLevel      RiskLevel     `json:"risk_level"`
	Actions        []Action      `json:"actions"`
	Confidence     float64       `json:"confidence"` // 0..100
	Elapsed        time.Duration `json:"elapsed"`
}

// HistoryEntry records one result for audit and statistics.
type HistoryEntry struct {
	Timestamp time.Time      `json:"ts"`
	Result    Result         `json:"result"`
	Context   RequestContext `json:"context"`
	Method    string         `json:"method"`
	URL       string         `json:"url"`
}

const evidenceValueMax = 120

// truncate bounds observed values recorded as evidence.
func truncate(s string) string {
	if len(s) <= evidenceValueMax {
		return s
	}
	return s[:evidenceValueMax] + "..."
}
