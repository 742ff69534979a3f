package detect

import (
	"fmt"
	"net/url"
	"strings"
)

// ReputationStrategy checks the caller against externally sourced intel:
// IP reputation, known bot user agents, malicious referring domains and
// compromised credentials. Absence of data is never a threat.
type ReputationStrategy struct {
	intel *IntelStore
}

func NewReputationStrategy(intel *IntelStore) *ReputationStrategy {
	return &ReputationStrategy{intel: intel}
}

func (s *ReputationStrategy) Name() string { return "reputation_analyzer" }

func (s *ReputationStrategy) Detect(in MatchInput, rc RequestContext) []Threat {
	var threats []Threat

	if rep, ok := s.intel.LookupIP(rc.ClientIP); ok && rep.Score < 30 {
		sev := SeverityHigh
		if rep.Score < 10 {
			sev = SeverityCritical
		}
		threats = append(threats, Threat{
			ID:         "rep-ip-" + rc.ClientIP,
			Name:       "Malicious IP Address",
			Category:   CategoryMalware,
			Severity:   sev,
			Confidence: rep.Confidence,
			Evidence: []Evidence{{
				Type:        EvidenceReputation,
				Description: fmt.Sprintf("reputation score %.0f from %s", rep.Score, strings.Join(rep.Sources, ",")),
				Value:       rc.ClientIP,
				Confidence:  rep.Confidence,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryMalware),
		})
	}

	if rc.UserAgent != "" && s.intel.IsBotUserAgent(rc.UserAgent) {
		threats = append(threats, Threat{
			ID:         "rep-bot-ua",
			Name:       "Known Bot User-Agent",
			Category:   CategoryBot,
			Severity:   SeverityHigh,
			Confidence: 90,
			Evidence: []Evidence{{
				Type:        EvidenceReputation,
				Description: "user agent in known-bot set",
				Value:       truncate(rc.UserAgent),
				Confidence:  90,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryBot),
		})
	}

	if host := refererHost(in); host != "" && s.intel.IsMaliciousDomain(host) {
		threats = append(threats, Threat{
			ID:         "rep-domain-" + host,
			Name:       "Malicious Referring Domain",
			Category:   CategoryPhishing,
			Severity:   SeverityHigh,
			Confidence: 80,
			Evidence: []Evidence{{
				Type:        EvidenceReputation,
				Description: "referring domain in malicious-domain set",
				Value:       host,
				Confidence:  80,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryPhishing),
		})
	}

	if s.intel.IsCompromised(rc.UserID) {
		threats = append(threats, Threat{
			ID:         "rep-cred-" + rc.UserID,
			Name:       "Compromised Credential",
			Category:   CategoryBruteForce,
			Severity:   SeverityHigh,
			Confidence: 85,
			Evidence: []Evidence{{
				Type:        EvidenceReputation,
				Description: "authenticated user appears in credential dump",
				Value:       rc.UserID,
				Confidence:  85,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryBruteForce),
		})
	}

	return threats
}

func refererHost(in MatchInput) string {
	ref := in.Headers.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
