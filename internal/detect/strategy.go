package detect

// Strategy is one side-effect-free detection pass over the request and the
// read-only stores. Strategies run concurrently; none of them may block or
// perform I/O.
type Strategy interface {
	Name() string
	Detect(in MatchInput, rc RequestContext) []Threat
}

// mitigationFor maps a threat category to suggested operator responses.
func mitigationFor(cat Category) []string {
	switch cat {
	case CategoryInjection:
		return []string{"block request", "review input validation on the matched endpoint"}
	case CategoryBot:
		return []string{"challenge with CAPTCHA", "rate-limit the source"}
	case CategoryBruteForce:
		return []string{"lock account after repeated failures", "require MFA"}
	case CategoryExfiltration:
		return []string{"block request", "audit data access for the identity"}
	case CategoryPhishing:
		return []string{"block request", "report the referring domain"}
	case CategoryDDoS:
		return []string{"throttle the source", "enable upstream rate limiting"}
	case CategoryMalware:
		return []string{"block the source", "quarantine related sessions"}
	default:
		return nil
	}
}
