package detect

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// PatternKind discriminates the pattern variants.
type PatternKind string

const (
	PatternRegex      PatternKind = "regex"
	PatternIPRange    PatternKind = "ip_range"
	PatternUserAgent  PatternKind = "user_agent"
	PatternHeader     PatternKind = "header"
	PatternPayload    PatternKind = "payload"
	PatternBehavioral PatternKind = "behavioral"
)

// MatchInput is the request surface a pattern is evaluated against.
type MatchInput struct {
	Method    string
	URL       string
	Headers   http.Header
	ClientIP  string
	UserAgent string
}

// decodedURL undoes percent-encoding on the URL so wire forms like
// "union%20select" or "union+select" still hit regex signatures. Plus signs
// decode to spaces only in the query; undecodable segments stay raw.
func (in MatchInput) decodedURL() string {
	path, query, hasQuery := strings.Cut(in.URL, "?")
	if dp, err := url.PathUnescape(path); err == nil {
		path = dp
	}
	if !hasQuery {
		return path
	}
	if dq, err := url.QueryUnescape(query); err == nil {
		query = dq
	}
	return path + "?" + query
}

// headerBlob serializes headers once per evaluation for regex surfaces.
func (in MatchInput) headerBlob() string {
	var b strings.Builder
	for k, vals := range in.Headers {
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Pattern is one atomic matching rule within a signature. Each variant
// carries only the fields it needs; dispatch is by concrete type.
type Pattern interface {
	Kind() PatternKind
	Weight() float64
	Description() string
	// Match reports whether the rule matches, returning the observed value
	// for evidence. A non-nil error means the pattern could not be
	// evaluated; callers score that as a non-match.
	Match(in MatchInput) (bool, string, error)
	// Spec returns the serializable form of the pattern.
	Spec() PatternSpec
}

// PatternSpec is the JSON envelope for a pattern of any kind.
type PatternSpec struct {
	Type        string  `json:"type"`
	Pattern     string  `json:"pattern"`
	Header      string  `json:"header,omitempty"` // header patterns only
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// Compile turns a spec into a runnable pattern. Regex compilation errors are
// deferred to match time so one bad pattern cannot invalidate its signature.
func (ps PatternSpec) Compile() Pattern {
	w := ps.Weight
	if w < 0 {
		w = 0
	}
	if w > 100 {
		w = 100
	}
	base := basePattern{weight: w, desc: ps.Description}
	switch PatternKind(ps.Type) {
	case PatternRegex:
		p := &RegexPattern{basePattern: base, Expr: ps.Pattern}
		p.re, p.compileErr = regexp.Compile(ps.Pattern)
		return p
	case PatternIPRange:
		return &IPRangePattern{basePattern: base, CIDR: ps.Pattern}
	case PatternUserAgent:
		return &UserAgentPattern{basePattern: base, Substring: ps.Pattern}
	case PatternHeader:
		p := &HeaderPattern{basePattern: base, Name: ps.Header, Expr: ps.Pattern}
		if ps.Pattern != "" {
			p.re, p.compileErr = regexp.Compile(ps.Pattern)
		}
		return p
	case PatternBehavioral:
		return &ReservedPattern{basePattern: base, kind: PatternBehavioral, Raw: ps.Pattern}
	default:
		// Unknown kinds are treated like payload: present but inert.
		return &ReservedPattern{basePattern: base, kind: PatternPayload, Raw: ps.Pattern}
	}
}

type basePattern struct {
	weight float64
	desc   string
}

func (b basePattern) Weight() float64     { return b.weight }
func (b basePattern) Description() string { return b.desc }

// RegexPattern matches against the URL (raw and percent-decoded) plus
// serialized headers.
type RegexPattern struct {
	basePattern
	Expr       string
	re         *regexp.Regexp
	compileErr error
}

func (p *RegexPattern) Kind() PatternKind { return PatternRegex }

func (p *RegexPattern) Match(in MatchInput) (bool, string, error) {
	if p.re == nil {
		return false, "", fmt.Errorf("regex %q: %w", p.Expr, p.compileErr)
	}
	if loc := p.re.FindString(in.URL); loc != "" {
		return true, truncate(loc), nil
	}
	if dec := in.decodedURL(); dec != in.URL {
		if loc := p.re.FindString(dec); loc != "" {
			return true, truncate(loc), nil
		}
	}
	if loc := p.re.FindString(in.headerBlob()); loc != "" {
		return true, truncate(loc), nil
	}
	return false, "", nil
}

func (p *RegexPattern) Spec() PatternSpec {
	return PatternSpec{Type: string(PatternRegex), Pattern: p.Expr, Weight: p.weight, Description: p.desc}
}

// IPRangePattern matches the caller IP against a CIDR block (or a single IP).
type IPRangePattern struct {
	basePattern
	CIDR string
}

func (p *IPRangePattern) Kind() PatternKind { return PatternIPRange }

func (p *IPRangePattern) Match(in MatchInput) (bool, string, error) {
	ip := net.ParseIP(in.ClientIP)
	if ip == nil {
		return false, "", nil
	}
	if !strings.Contains(p.CIDR, "/") {
		if other := net.ParseIP(p.CIDR); other != nil {
			return other.Equal(ip), in.ClientIP, nil
		}
		return false, "", fmt.Errorf("ip_range %q: not an IP or CIDR", p.CIDR)
	}
	_, network, err := net.ParseCIDR(p.CIDR)
	if err != nil {
		return false, "", fmt.Errorf("ip_range %q: %w", p.CIDR, err)
	}
	return network.Contains(ip), in.ClientIP, nil
}

func (p *IPRangePattern) Spec() PatternSpec {
	return PatternSpec{Type: string(PatternIPRange), Pattern: p.CIDR, Weight: p.weight, Description: p.desc}
}

// UserAgentPattern matches a case-insensitive substring of the UA string.
type UserAgentPattern struct {
	basePattern
	Substring string
}

func (p *UserAgentPattern) Kind() PatternKind { return PatternUserAgent }

func (p *UserAgentPattern) Match(in MatchInput) (bool, string, error) {
	if p.Substring == "" {
		return false, "", nil
	}
	if strings.Contains(strings.ToLower(in.UserAgent), strings.ToLower(p.Substring)) {
		return true, truncate(in.UserAgent), nil
	}
	return false, "", nil
}

func (p *UserAgentPattern) Spec() PatternSpec {
	return PatternSpec{Type: string(PatternUserAgent), Pattern: p.Substring, Weight: p.weight, Description: p.desc}
}

// HeaderPattern matches a named header's value, optionally against a sub-regex.
// With no expression it matches on header presence alone.
type HeaderPattern struct {
	basePattern
	Name       string
	Expr       string
	re         *regexp.Regexp
	compileErr error
}

func (p *HeaderPattern) Kind() PatternKind { return PatternHeader }

func (p *HeaderPattern) Match(in MatchInput) (bool, string, error) {
	val := in.Headers.Get(p.Name)
	if val == "" {
		return false, "", nil
	}
	if p.Expr == "" {
		return true, truncate(val), nil
	}
	if p.re == nil {
		return false, "", fmt.Errorf("header regex %q: %w", p.Expr, p.compileErr)
	}
	return p.re.MatchString(val), truncate(val), nil
}

func (p *HeaderPattern) Spec() PatternSpec {
	return PatternSpec{Type: string(PatternHeader), Pattern: p.Expr, Header: p.Name, Weight: p.weight, Description: p.desc}
}

// ReservedPattern covers the payload and behavioral kinds. They round-trip
// through serialization but never match.
type ReservedPattern struct {
	basePattern
	kind PatternKind
	Raw  string
}

func (p *ReservedPattern) Kind() PatternKind { return p.kind }

func (p *ReservedPattern) Match(MatchInput) (bool, string, error) {
	return false, "", nil
}

func (p *ReservedPattern) Spec() PatternSpec {
	return PatternSpec{Type: string(p.kind), Pattern: p.Raw, Weight: p.weight, Description: p.desc}
}
