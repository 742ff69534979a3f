// Package feed fetches threat intelligence from an external HTTP feed and
// maps it into an engine intel snapshot. Refreshes run out of band in the
// maintenance scheduler, never inline with request analysis.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/netsentry/threatdetect/internal/detect"
)

// document is the feed wire format.
type document struct {
	IPReputation []struct {
		IP         string   `json:"ip"`
		Score      float64  `json:"score"`
		Categories []string `json:"categories,omitempty"`
		Sources    []string `json:"sources,omitempty"`
		Confidence float64  `json:"confidence"`
	} `json:"ip_reputation"`
	MaliciousDomains []string `json:"malicious_domains"`
	BotUserAgents    []string `json:"bot_user_agents"`
	CompromisedCreds []string `json:"compromised_credentials"`
	AttackPatterns   []struct {
		ID            string   `json:"id"`
		Indicators    []string `json:"indicators"`
		WindowSeconds int      `json:"window_seconds"`
		Threshold     int      `json:"threshold"`
	} `json:"attack_patterns"`
}

// Client pulls the feed with retries and exponential backoff.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and parses the feed, retrying transient failures.
func (c *Client) Fetch(ctx context.Context) (*detect.IntelSnapshot, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	var doc *document
	op := func() error {
		var err error
		doc, err = c.fetchOnce(ctx)
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return toSnapshot(doc), nil
}

func (c *Client) fetchOnce(ctx context.Context) (*document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, backoff.Permanent(fmt.Errorf("feed auth failed: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch failed: %d", resp.StatusCode)
	}
	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse feed: %w", err))
	}
	return &doc, nil
}

func toSnapshot(doc *document) *detect.IntelSnapshot {
	snap := detect.NewIntelSnapshot()
	now := time.Now().UTC()
	for _, r := range doc.IPReputation {
		if r.IP == "" {
			continue
		}
		snap.IPReputation[r.IP] = detect.Reputation{
			Score:      clamp(r.Score),
			Categories: r.Categories,
			Sources:    r.Sources,
			Confidence: clamp(r.Confidence),
			LastSeen:   now,
		}
	}
	for _, d := range doc.MaliciousDomains {
		snap.MaliciousDomains[d] = struct{}{}
	}
	for _, ua := range doc.BotUserAgents {
		snap.BotUserAgents[ua] = struct{}{}
	}
	for _, id := range doc.CompromisedCreds {
		snap.CompromisedCreds[id] = now
	}
	for _, ap := range doc.AttackPatterns {
		snap.AttackPatterns = append(snap.AttackPatterns, detect.AttackPattern{
			ID:         ap.ID,
			Indicators: ap.Indicators,
			Window:     time.Duration(ap.WindowSeconds) * time.Second,
			Threshold:  ap.Threshold,
		})
	}
	return snap
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
