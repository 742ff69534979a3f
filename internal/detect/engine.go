package detect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/netsentry/threatdetect/internal/audit"
)

// Options configures engine construction.
type Options struct {
	// FailClosed makes the panic boundary return a blocking verdict instead
	// of the fail-open default.
	FailClosed bool
	// HistoryCapacity overrides the 10k default when positive.
	HistoryCapacity int
	// ProfileShardPow sets the profile store shard count (2^n).
	ProfileShardPow uint8
	// Sink receives audit events for non-clean verdicts. Defaults to the
	// local log sink.
	Sink audit.Sink
}

// Engine runs the four detection strategies over a request and aggregates
// their findings into one risk-scored verdict.
type Engine struct {
	catalog    *Catalog
	intel      *IntelStore
	profiles   *ProfileStore
	history    *History
	strategies []Strategy
	sink       audit.Sink
	failClosed bool

	requests  metric.Int64Counter
	threats   metric.Int64Counter
	failures  metric.Int64Counter
	latencyMs metric.Float64Histogram
}

// NewEngine wires the stores and strategies together.
func NewEngine(opts Options) *Engine {
	if opts.ProfileShardPow == 0 {
		opts.ProfileShardPow = 6
	}
	sink := opts.Sink
	if sink == nil {
		sink = audit.LogSink{}
	}
	catalog := NewCatalog()
	intel := NewIntelStore()
	profiles := NewProfileStore(opts.ProfileShardPow)

	meter := otel.Meter("threatdetect-engine")
	requests, _ := meter.Int64Counter("sentry_detect_requests_total")
	threats, _ := meter.Int64Counter("sentry_detect_threats_total")
	failures, _ := meter.Int64Counter("sentry_detect_failures_total")
	latencyMs, _ := meter.Float64Histogram("sentry_detect_latency_ms")

	e := &Engine{
		catalog:    catalog,
		intel:      intel,
		profiles:   profiles,
		history:    NewHistory(opts.HistoryCapacity),
		sink:       sink,
		failClosed: opts.FailClosed,
		requests:   requests,
		threats:    threats,
		failures:   failures,
		latencyMs:  latencyMs,
	}
	e.strategies = []Strategy{
		NewSignatureStrategy(catalog),
		NewBehaviorStrategy(profiles, intel),
		NewReputationStrategy(intel),
		NewShapeStrategy(),
	}

	gauge, _ := meter.Int64ObservableGauge("sentry_detect_profiles")
	meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(profiles.Len()))
		return nil
	}, gauge)

	return e
}

// Catalog exposes the signature catalog for maintenance and operator APIs.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Intel exposes the intelligence store for the refresh task.
func (e *Engine) Intel() *IntelStore { return e.intel }

// Profiles exposes the behavioral profile store for eviction.
func (e *Engine) Profiles() *ProfileStore { return e.profiles }

// History exposes the bounded audit trail.
func (e *Engine) History() *History { return e.history }

// AnalyzeRequest inspects one request and returns a verdict. It performs no
// I/O and holds no locks across strategy boundaries; any panic inside is
// converted into the configured failure verdict rather than propagating.
func (e *Engine) AnalyzeRequest(ctx context.Context, req *http.Request, rc RequestContext) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("request analysis failed",
				"panic", r,
				"url", req.URL.String(),
				"method", req.Method,
				"ip", rc.ClientIP,
				"user_agent", rc.UserAgent,
				"elapsed", time.Since(start),
			)
			e.failures.Add(ctx, 1)
			res = e.failureResult(start)
		}
	}()

	in := MatchInput{
		Method:    req.Method,
		URL:       req.URL.String(),
		Headers:   req.Header,
		ClientIP:  rc.ClientIP,
		UserAgent: rc.UserAgent,
	}

	threats := e.runStrategies(in, rc)
	score, level := AggregateRisk(threats)
	detected := len(threats) > 0

	var actions []Action
	if detected {
		actions = ActionsFor(level, true)
	}

	res = Result{
		ID:             uuid.NewString(),
		ThreatDetected: detected,
		Threats:        threats,
		RiskScore:      score,
		RiskLevel:      level,
		Actions:        actions,
		Confidence:     OverallConfidence(threats),
		Elapsed:        time.Since(start),
	}

	e.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("risk_level", string(level))))
	e.latencyMs.Record(ctx, float64(res.Elapsed.Microseconds())/1000.0)
	for _, t := range threats {
		e.threats.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(t.Category))))
	}

	e.history.Record(HistoryEntry{
		Timestamp: start.UTC(),
		Result:    res,
		Context:   rc,
		Method:    req.Method,
		URL:       in.URL,
	})
	if detected {
		e.emitAudit(ctx, in, rc, res)
	}
	return res
}

// runStrategies executes all strategies concurrently. Each runs behind its
// own recover so one failing strategy contributes zero threats without
// aborting the others.
func (e *Engine) runStrategies(in MatchInput, rc RequestContext) []Threat {
	results := make([][]Threat, len(e.strategies))
	var wg sync.WaitGroup
	for i, st := range e.strategies {
		wg.Add(1)
		go func(i int, st Strategy) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("detection strategy failed", "strategy", st.Name(), "panic", r)
				}
			}()
			results[i] = st.Detect(in, rc)
		}(i, st)
	}
	wg.Wait()

	var merged []Threat
	for _, ts := range results {
		merged = append(merged, ts...)
	}
	return merged
}

// RecordOutcome updates the caller's behavioral profile once the response is
// known. This is the engine's only mutating step and serializes per
// identity key inside the profile store.
func (e *Engine) RecordOutcome(rc RequestContext, obs Observation) {
	if obs.UserAgent == "" {
		obs.UserAgent = rc.UserAgent
	}
	if obs.Country == "" {
		obs.Country = rc.Country
	}
	e.profiles.Observe(rc.Identity(), obs)
}

func (e *Engine) failureResult(start time.Time) Result {
	if e.failClosed {
		return Result{
			ID:             uuid.NewString(),
			ThreatDetected: true,
			RiskScore:      100,
			RiskLevel:      RiskCritical,
			Actions: []Action{
				{Type: ActionBlock, Reason: "internal analysis error (fail-closed)", Duration: 60, Automatic: true},
				{Type: ActionAlert, Reason: "internal analysis error", Automatic: true},
			},
			Confidence: 0,
			Elapsed:    time.Since(start),
		}
	}
	return Result{
		ID:         uuid.NewString(),
		RiskLevel:  RiskLow,
		Confidence: 0,
		Elapsed:    time.Since(start),
	}
}

func (e *Engine) emitAudit(ctx context.Context, in MatchInput, rc RequestContext, res Result) {
	names := make([]string, 0, len(res.Threats))
	for _, t := range res.Threats {
		names = append(names, t.Name)
	}
	outcome := "monitored"
	for _, a := range res.Actions {
		if a.Type == ActionBlock {
			outcome = "blocked"
			break
		}
	}
	e.sink.Emit(ctx, audit.Event{
		Type:      "threat_detected",
		Severity:  string(res.RiskLevel),
		Identity:  rc.Identity(),
		IP:        rc.ClientIP,
		UserAgent: rc.UserAgent,
		URL:       in.URL,
		Method:    in.Method,
		Details: map[string]string{
			"risk_score": fmt.Sprintf("%.1f", res.RiskScore),
			"threats":    fmt.Sprintf("%v", names),
			"result_id":  res.ID,
		},
		Outcome: outcome,
		Source:  "threat-detection-engine",
	})
}
