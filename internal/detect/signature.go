package detect

import (
	"log/slog"
)

// SignatureStrategy evaluates every active signature against the request.
type SignatureStrategy struct {
	catalog *Catalog
}

func NewSignatureStrategy(catalog *Catalog) *SignatureStrategy {
	return &SignatureStrategy{catalog: catalog}
}

func (s *SignatureStrategy) Name() string { return "signature_matcher" }

func (s *SignatureStrategy) Detect(in MatchInput, rc RequestContext) []Threat {
	var threats []Threat
	for _, sig := range s.catalog.Active() {
		if t, ok := s.evaluate(sig, in); ok {
			threats = append(threats, t)
		}
	}
	return threats
}

// evaluate scores one signature. A pattern that cannot be evaluated (bad
// regex, malformed CIDR) is logged and counted as a non-match; it never
// aborts the signature.
func (s *SignatureStrategy) evaluate(sig *Signature, in MatchInput) (Threat, bool) {
	var (
		evidence  []Evidence
		weightSum float64
	)
	for _, p := range sig.Patterns {
		matched, observed, err := p.Match(in)
		if err != nil {
			slog.Debug("pattern evaluation failed",
				"signature", sig.ID, "kind", string(p.Kind()), "error", err)
			continue
		}
		if !matched {
			continue
		}
		weightSum += p.Weight()
		evidence = append(evidence, Evidence{
			Type:        EvidencePatternMatch,
			Description: p.Description(),
			Value:       observed,
			Confidence:  p.Weight(),
			Source:      s.Name(),
		})
	}
	if len(evidence) == 0 {
		return Threat{}, false
	}
	confidence := weightSum / float64(len(evidence)) * sig.Multiplier
	if confidence > 100 {
		confidence = 100
	}
	return Threat{
		ID:         sig.ID,
		Name:       sig.Name,
		Category:   sig.Category,
		Severity:   sig.Severity,
		Confidence: confidence,
		Evidence:   evidence,
		Mitigation: mitigationFor(sig.Category),
	}, true
}
