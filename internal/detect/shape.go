package detect

import (
	"fmt"
	"net/url"
)

// Header and path limits for structural checks.
const (
	maxHeaderCount = 50
	maxPathLength  = 500
)

// ShapeStrategy applies stateless structural heuristics to the raw request.
// It needs no history or external data, so it catches malformed automation
// on an identity's very first request.
type ShapeStrategy struct{}

func NewShapeStrategy() *ShapeStrategy { return &ShapeStrategy{} }

func (s *ShapeStrategy) Name() string { return "shape_detector" }

func (s *ShapeStrategy) Detect(in MatchInput, rc RequestContext) []Threat {
	var threats []Threat

	if n := len(in.Headers); n > maxHeaderCount {
		threats = append(threats, Threat{
			ID:         "shape-headers",
			Name:       "Excessive Header Count",
			Category:   CategoryBot,
			Severity:   SeverityMedium,
			Confidence: 75,
			Evidence: []Evidence{{
				Type:        EvidenceAnomaly,
				Description: fmt.Sprintf("%d headers exceeds limit of %d", n, maxHeaderCount),
				Value:       fmt.Sprintf("%d", n),
				Confidence:  75,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryBot),
		})
	}

	if path := requestPath(in.URL); len(path) > maxPathLength {
		threats = append(threats, Threat{
			ID:         "shape-path",
			Name:       "Oversized URL Path",
			Category:   CategoryBot,
			Severity:   SeverityMedium,
			Confidence: 80,
			Evidence: []Evidence{{
				Type:        EvidenceAnomaly,
				Description: fmt.Sprintf("path length %d exceeds limit of %d", len(path), maxPathLength),
				Value:       truncate(path),
				Confidence:  80,
				Source:      s.Name(),
			}},
			Mitigation: mitigationFor(CategoryBot),
		})
	}

	return threats
}

func requestPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	return raw
}
