package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/netsentry/threatdetect/internal/audit"
	"github.com/netsentry/threatdetect/internal/detect"
	"github.com/netsentry/threatdetect/internal/feed"
	"github.com/netsentry/threatdetect/internal/kvstore"
	"github.com/netsentry/threatdetect/internal/logging"
	"github.com/netsentry/threatdetect/internal/otelinit"
)

const service = "threat-detection"

func main() {
	logging.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics := otelinit.InitMetrics(ctx, service)

	// audit sink: NATS when configured, local log otherwise
	var sink audit.Sink = audit.LogSink{}
	var nc *nats.Conn
	if url := os.Getenv("SENTRY_NATS_URL"); url != "" {
		var err error
		nc, err = nats.Connect(url, nats.Name(service), nats.MaxReconnects(-1))
		if err != nil {
			slog.Warn("nats connect failed, using log audit sink", "error", err)
		} else {
			sink = audit.NewNATSSink(nc, audit.Subject)
		}
	}

	engine := detect.NewEngine(detect.Options{
		FailClosed: envBool("SENTRY_FAIL_CLOSED"),
		Sink:       sink,
	})

	// signature persistence
	var kv kvstore.KV
	var bolt *kvstore.Bolt
	if path := envOr("SENTRY_DB_PATH", "threatdetect.db"); path != "off" {
		var err error
		bolt, err = kvstore.OpenBolt(path)
		if err != nil {
			slog.Error("open kv store", "error", err, "path", path)
			os.Exit(1)
		}
		kv = bolt
		if err := detect.RestoreCatalog(engine, kv); err != nil {
			slog.Warn("catalog restore failed, keeping built-in set", "error", err)
		}
	}

	// operator-managed signature file with hot reload
	var watcher *detect.Watcher
	if sigFile := os.Getenv("SENTRY_SIGNATURE_FILE"); sigFile != "" {
		var err error
		watcher, err = detect.NewWatcher(engine.Catalog(), sigFile)
		if err != nil {
			slog.Error("signature file watch failed", "error", err, "path", sigFile)
			os.Exit(1)
		}
	}

	var fetcher detect.IntelFetcher
	if feedURL := os.Getenv("SENTRY_FEED_URL"); feedURL != "" {
		fetcher = feed.NewClient(feedURL, os.Getenv("SENTRY_FEED_API_KEY"))
	}

	maint, err := detect.NewMaintenance(engine, kv, fetcher, detect.MaintenanceOptions{})
	if err != nil {
		slog.Error("maintenance setup failed", "error", err)
		os.Exit(1)
	}
	maint.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		topN, _ := strconv.Atoi(r.URL.Query().Get("top"))
		writeJSON(w, http.StatusOK, engine.History().Stats(topN))
	})
	mux.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if n <= 0 || n > 500 {
			n = 100
		}
		writeJSON(w, http.StatusOK, engine.History().Recent(n))
	})
	mux.HandleFunc("POST /v1/analyze", analyzeHandler(engine))
	mux.HandleFunc("POST /v1/outcome", outcomeHandler(engine))

	srv := &http.Server{
		Addr:              envOr("SENTRY_ADDR", ":8085"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	_ = maint.Stop(shutdownCtx)
	if watcher != nil {
		_ = watcher.Close()
	}
	if bolt != nil {
		_ = bolt.Close()
	}
	if nc != nil {
		_ = nc.Drain()
	}
	otelinit.Flush(context.Background(), shutdownMetrics)
	otelinit.Flush(context.Background(), shutdownTrace)
	slog.Info("stopped")
}

// analyzeRequest is the wire form the enforcement proxy sends for a verdict.
type analyzeRequest struct {
	Method  string                `json:"method"`
	URL     string                `json:"url"`
	Headers map[string][]string   `json:"headers,omitempty"`
	Context detect.RequestContext `json:"context"`
}

func analyzeHandler(engine *detect.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in analyzeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), orDefault(in.Method, http.MethodGet), in.URL, nil)
		if err != nil {
			http.Error(w, "invalid url", http.StatusBadRequest)
			return
		}
		for k, vals := range in.Headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		writeJSON(w, http.StatusOK, engine.AnalyzeRequest(r.Context(), req, in.Context))
	}
}

// outcomeRequest reports a completed response for profile learning.
type outcomeRequest struct {
	Context    detect.RequestContext `json:"context"`
	Endpoint   string                `json:"endpoint"`
	StatusCode int                   `json:"status_code"`
	DurationMs int64                 `json:"duration_ms"`
}

func outcomeHandler(engine *detect.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in outcomeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		engine.RecordOutcome(in.Context, detect.Observation{
			Endpoint:   in.Endpoint,
			StatusCode: in.StatusCode,
			Duration:   time.Duration(in.DurationMs) * time.Millisecond,
		})
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
