package detect

import (
	"sort"
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the audit trail.
const DefaultHistoryCapacity = 10000

// History is a fixed-capacity ring buffer of detection results. Memory use
// is bounded by capacity regardless of request volume; the oldest entry is
// evicted first.
type History struct {
	mu   sync.RWMutex
	buf  []HistoryEntry
	head int // next write position
	size int
}

// NewHistory creates a ring buffer with the given capacity (the default
// when capacity <= 0).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]HistoryEntry, capacity)}
}

// Record appends an entry, evicting the oldest when full.
func (h *History) Record(e HistoryEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	h.buf[h.head] = e
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
	h.mu.Unlock()
}

// Len reports the current entry count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Recent returns up to n entries, newest first.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + len(h.buf)*2) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// ThreatCount is one (name, count) pair for top-N reporting.
type ThreatCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics is the on-demand aggregate view over the history buffer.
type Statistics struct {
	TotalResults    int            `json:"total_results"`
	TotalThreats    int            `json:"total_threats"`
	ByCategory      map[string]int `json:"by_category"`
	BySeverity      map[string]int `json:"by_severity"`
	TopThreats      []ThreatCount  `json:"top_threats"`
	RecentRiskTrend float64        `json:"recent_risk_trend"` // mean score of last 100 results
	BlockedCount    int            `json:"blocked_count"`
}

// Stats derives aggregate statistics from the buffered entries.
func (h *History) Stats(topN int) Statistics {
	if topN <= 0 {
		topN = 10
	}
	h.mu.RLock()
	entries := make([]HistoryEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		idx := (h.head - 1 - i + len(h.buf)*2) % len(h.buf)
		entries = append(entries, h.buf[idx])
	}
	h.mu.RUnlock()

	stats := Statistics{
		TotalResults: len(entries),
		ByCategory:   make(map[string]int),
		BySeverity:   make(map[string]int),
	}
	names := make(map[string]int)
	trendSum, trendN := 0.0, 0
	for i, e := range entries {
		if i < 100 {
			trendSum += e.Result.RiskScore
			trendN++
		}
		for _, t := range e.Result.Threats {
			stats.TotalThreats++
			stats.ByCategory[string(t.Category)]++
			stats.BySeverity[string(t.Severity)]++
			names[t.Name]++
		}
		for _, a := range e.Result.Actions {
			if a.Type == ActionBlock {
				stats.BlockedCount++
				break
			}
		}
	}
	if trendN > 0 {
		stats.RecentRiskTrend = trendSum / float64(trendN)
	}
	for name, n := range names {
		stats.TopThreats = append(stats.TopThreats, ThreatCount{Name: name, Count: n})
	}
	sort.Slice(stats.TopThreats, func(i, j int) bool {
		if stats.TopThreats[i].Count != stats.TopThreats[j].Count {
			return stats.TopThreats[i].Count > stats.TopThreats[j].Count
		}
		return stats.TopThreats[i].Name < stats.TopThreats[j].Name
	})
	if len(stats.TopThreats) > topN {
		stats.TopThreats = stats.TopThreats[:topN]
	}
	return stats
}
