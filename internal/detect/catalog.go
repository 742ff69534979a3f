package detect

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Signature is a named bundle of patterns detecting one known threat.
type Signature struct {
	ID         string
	Name       string
	Category   Category
	Severity   Severity
	Patterns   []Pattern
	Multiplier float64 // confidence multiplier, 0..1
	Active     bool
	UpdatedAt  time.Time
}

// Validate enforces the signature invariants.
func (s *Signature) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("signature missing id")
	}
	if len(s.Patterns) == 0 {
		return fmt.Errorf("signature %s: no patterns", s.ID)
	}
	if s.Multiplier < 0 || s.Multiplier > 1 {
		return fmt.Errorf("signature %s: multiplier %v out of [0,1]", s.ID, s.Multiplier)
	}
	return nil
}

// SignatureSpec is the serialized form of a signature. Severity and category
// strings from external sources go through the validating parsers on restore.
type SignatureSpec struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Category   string        `json:"category"`
	Severity   string        `json:"severity"`
	Patterns   []PatternSpec `json:"patterns"`
	Multiplier float64       `json:"confidence_multiplier"`
	Active     bool          `json:"active"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Compile turns a spec into a runnable signature.
func (ss SignatureSpec) Compile() (*Signature, error) {
	sig := &Signature{
		ID:         ss.ID,
		Name:       ss.Name,
		Category:   ParseCategory(ss.Category),
		Severity:   ParseSeverity(ss.Severity),
		Multiplier: ss.Multiplier,
		Active:     ss.Active,
		UpdatedAt:  ss.UpdatedAt,
	}
	for _, ps := range ss.Patterns {
		sig.Patterns = append(sig.Patterns, ps.Compile())
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

// Spec returns the serializable form.
func (s *Signature) Spec() SignatureSpec {
	ss := SignatureSpec{
		ID:         s.ID,
		Name:       s.Name,
		Category:   string(s.Category),
		Severity:   string(s.Severity),
		Multiplier: s.Multiplier,
		Active:     s.Active,
		UpdatedAt:  s.UpdatedAt,
	}
	for _, p := range s.Patterns {
		ss.Patterns = append(ss.Patterns, p.Spec())
	}
	return ss
}

// Catalog owns the signature set. Reads dominate; updates happen on operator
// action, hot reload, or restore from the KV snapshot.
type Catalog struct {
	mu   sync.RWMutex
	sigs map[string]*Signature
}

// NewCatalog returns a catalog seeded with the built-in signatures.
func NewCatalog() *Catalog {
	c := &Catalog{sigs: make(map[string]*Signature)}
	for _, ss := range defaultSignatures() {
		if sig, err := ss.Compile(); err == nil {
			c.sigs[sig.ID] = sig
		}
	}
	return c
}

// Upsert inserts or replaces a signature after validation.
func (c *Catalog) Upsert(sig *Signature) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	sig.UpdatedAt = time.Now().UTC()
	c.mu.Lock()
	c.sigs[sig.ID] = sig
	c.mu.Unlock()
	return nil
}

// Remove deletes a signature by ID.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	delete(c.sigs, id)
	c.mu.Unlock()
}

// SetActive toggles a signature without touching its patterns.
func (c *Catalog) SetActive(id string, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig, ok := c.sigs[id]
	if !ok {
		return false
	}
	sig.Active = active
	sig.UpdatedAt = time.Now().UTC()
	return true
}

// Active returns the active signatures ordered by ID, so repeated scans of
// the same request produce threats in the same order. The slice is fresh;
// the signatures themselves are shared and treated as immutable by readers.
func (c *Catalog) Active() []*Signature {
	c.mu.RLock()
	out := make([]*Signature, 0, len(c.sigs))
	for _, s := range c.sigs {
		if s.Active {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the total signature count, active or not.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sigs)
}

// Snapshot serializes the full catalog, sorted by ID for determinism.
func (c *Catalog) Snapshot() ([]byte, error) {
	c.mu.RLock()
	specs := make([]SignatureSpec, 0, len(c.sigs))
	for _, s := range c.sigs {
		specs = append(specs, s.Spec())
	}
	c.mu.RUnlock()
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return json.Marshal(struct {
		Signatures []SignatureSpec `json:"signatures"`
	}{specs})
}

// Restore replaces the catalog contents from a serialized snapshot. Specs
// that fail validation are skipped and reported; the rest are kept.
func (c *Catalog) Restore(data []byte) (loaded int, err error) {
	var wrapper struct {
		Signatures []SignatureSpec `json:"signatures"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return 0, fmt.Errorf("decode catalog snapshot: %w", err)
	}
	next := make(map[string]*Signature, len(wrapper.Signatures))
	var firstErr error
	for _, ss := range wrapper.Signatures {
		sig, cerr := ss.Compile()
		if cerr != nil {
			if firstErr == nil {
				firstErr = cerr
			}
			continue
		}
		next[sig.ID] = sig
	}
	c.mu.Lock()
	c.sigs = next
	c.mu.Unlock()
	return len(next), firstErr
}

// CatalogKey is the fixed key the serialized catalog is persisted under.
const CatalogKey = "threatdetect:signature-catalog"

// CatalogTTL bounds the age of the persisted snapshot.
const CatalogTTL = 24 * time.Hour
