package detect

import "time"

// defaultSignatures seeds the catalog with a baseline rule set covering the
// common web attack classes. Operators extend or replace these via the hot
// reload file or the persisted snapshot.
func defaultSignatures() []SignatureSpec {
	now := time.Now().UTC()
	return []SignatureSpec{
		{
			ID:       "sig-sqli-001",
			Name:     "SQL Injection Attempt",
			Category: string(CategoryInjection),
			Severity: string(SeverityCritical),
			Patterns: []PatternSpec{
				{Type: string(PatternRegex), Pattern: `(?i)union\s+select`, Weight: 80, Description: "UNION-based injection"},
				{Type: string(PatternRegex), Pattern: `(?i)(or|and)\s+\d+\s*=\s*\d+`, Weight: 70, Description: "boolean tautology"},
				{Type: string(PatternRegex), Pattern: `(?i)(;|%3b)\s*(drop|truncate|delete)\s`, Weight: 85, Description: "stacked destructive statement"},
			},
			Multiplier: 0.85,
			Active:     true,
			UpdatedAt:  now,
		},
		{
			ID:       "sig-xss-001",
			Name:     "Cross-Site Scripting Attempt",
			Category: string(CategoryInjection),
			Severity: string(SeverityHigh),
			Patterns: []PatternSpec{
				{Type: string(PatternRegex), Pattern: `(?i)<script[\s>]`, Weight: 75, Description: "script tag"},
				{Type: string(PatternRegex), Pattern: `(?i)javascript:\s*[a-z]`, Weight: 65, Description: "javascript URI"},
				{Type: string(PatternRegex), Pattern: `(?i)on(error|load|click)\s*=`, Weight: 60, Description: "inline event handler"},
			},
			Multiplier: 0.8,
			Active:     true,
			UpdatedAt:  now,
		},
		{
			ID:       "sig-traversal-001",
			Name:     "Path Traversal Attempt",
			Category: string(CategoryExfiltration),
			Severity: string(SeverityHigh),
			Patterns: []PatternSpec{
				{Type: string(PatternRegex), Pattern: `\.\./|\.\.%2[fF]`, Weight: 80, Description: "dot-dot segment"},
				{Type: string(PatternRegex), Pattern: `(?i)/etc/(passwd|shadow)`, Weight: 90, Description: "system file probe"},
			},
			Multiplier: 0.9,
			Active:     true,
			UpdatedAt:  now,
		},
		{
			ID:       "sig-scanner-001",
			Name:     "Security Scanner Fingerprint",
			Category: string(CategoryBot),
			Severity: string(SeverityMedium),
			Patterns: []PatternSpec{
				{Type: string(PatternUserAgent), Pattern: "sqlmap", Weight: 95, Description: "sqlmap UA"},
				{Type: string(PatternUserAgent), Pattern: "nikto", Weight: 95, Description: "nikto UA"},
				{Type: string(PatternUserAgent), Pattern: "nmap", Weight: 90, Description: "nmap UA"},
				{Type: string(PatternUserAgent), Pattern: "masscan", Weight: 90, Description: "masscan UA"},
			},
			Multiplier: 0.95,
			Active:     true,
			UpdatedAt:  now,
		},
		{
			ID:       "sig-bruteforce-001",
			Name:     "Credential Stuffing Pattern",
			Category: string(CategoryBruteForce),
			Severity: string(SeverityHigh),
			Patterns: []PatternSpec{
				{Type: string(PatternRegex), Pattern: `(?i)/(login|signin|auth|session)([/?]|$)`, Weight: 40, Description: "auth endpoint"},
				{Type: string(PatternHeader), Header: "X-Forwarded-For", Pattern: `(?:[0-9]{1,3}\.){3}[0-9]{1,3}(,\s*(?:[0-9]{1,3}\.){3}[0-9]{1,3}){3,}`, Weight: 60, Description: "long proxy chain"},
			},
			Multiplier: 0.7,
			Active:     true,
			UpdatedAt:  now,
		},
		{
			ID:       "sig-exfil-001",
			Name:     "Data Exfiltration Indicator",
			Category: string(CategoryExfiltration),
			Severity: string(SeverityCritical),
			Patterns: []PatternSpec{
				{Type: string(PatternRegex), Pattern: `(?i)(select|dump|export).{0,40}(limit\s+[0-9]{4,}|into\s+outfile)`, Weight: 85, Description: "bulk extraction query"},
				// reserved kind: payload inspection lands here once the body
				// surface is plumbed through
				{Type: string(PatternPayload), Pattern: "bulk-rows", Weight: 50, Description: "oversized result set"},
			},
			Multiplier: 0.8,
			Active:     true,
			UpdatedAt:  now,
		},
	}
}
