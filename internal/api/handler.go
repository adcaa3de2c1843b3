package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/feed"
	"github.com/opensource-finance/watchtower/internal/scoring"
	"github.com/opensource-finance/watchtower/internal/stats"
	"github.com/opensource-finance/watchtower/internal/traffic"
	"github.com/spaolacci/murmur3"
)

// Dependencies are the collaborators the handlers serve. Only Engine is
// required; endpoints whose collaborator is missing answer 503.
type Dependencies struct {
	Engine    *scoring.Engine
	Generator *traffic.Generator
	Feed      *feed.Feed
	Stats     *stats.Service
	Cache     domain.Cache
	Bus       domain.EventBus

	Latency    domain.LatencyConfig
	VerdictTTL time.Duration
	Version    string
	Tier       domain.Tier

	// FeedContext bounds feeds started over HTTP. Defaults to Background.
	FeedContext context.Context

	// Clock times the artificial latency. Defaults to the wall clock.
	Clock clockwork.Clock
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Dependencies
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	if deps.FeedContext == nil {
		deps.FeedContext = context.Background()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Handler{deps: deps}
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StartRequest is the request body for POST /simulation/start.
type StartRequest struct {
	Mode feed.Mode `json:"mode"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.deps.Bus != nil {
		if err := h.deps.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.deps.Version,
		"tier":    string(h.deps.Tier),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Catalog returns the enumeration tables clients build their forms from.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.Catalog())
}

// ListRules returns a detector's rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	d := domain.Detector(chi.URLParam(r, "detector"))

	set, ok := h.deps.Engine.Rules(d)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("unknown detector %q", d),
			Field: "detector",
		})
		return
	}

	writeJSON(w, http.StatusOK, set)
}

// DetectPhishing handles POST /detect/phishing requests.
func (h *Handler) DetectPhishing(w http.ResponseWriter, r *http.Request) {
	var req domain.PhishingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	v, err := h.phishingVerdict(ctx, req.URL)
	if err != nil {
		writeScoringError(w, r, err)
		return
	}

	h.respond(w, r, v, v.PhishingResult())
}

// DetectBot handles POST /detect/bot requests.
func (h *Handler) DetectBot(w http.ResponseWriter, r *http.Request) {
	var in domain.TransactionInput
	if !decodeJSON(w, r, &in) {
		return
	}

	v, err := h.deps.Engine.Evaluate(r.Context(), domain.DetectorBot, in)
	if err != nil {
		writeScoringError(w, r, err)
		return
	}

	h.respond(w, r, v, v.BotResult())
}

// DetectNetwork handles POST /detect/network requests.
func (h *Handler) DetectNetwork(w http.ResponseWriter, r *http.Request) {
	var in domain.NetworkThreatInput
	if !decodeJSON(w, r, &in) {
		return
	}

	v, err := h.deps.Engine.Evaluate(r.Context(), domain.DetectorNetwork, in)
	if err != nil {
		writeScoringError(w, r, err)
		return
	}

	h.respond(w, r, v, v.NetworkResult())
}

// phishingVerdict serves a memoized verdict when one is cached. Scoring is
// deterministic, so a cached verdict is identical to a fresh one.
func (h *Handler) phishingVerdict(ctx context.Context, url string) (domain.Verdict, error) {
	if h.deps.Cache == nil || h.deps.VerdictTTL <= 0 {
		return h.deps.Engine.Evaluate(ctx, domain.DetectorPhishing, url)
	}

	key := verdictKey(url)

	if data, err := h.deps.Cache.Get(ctx, key); err != nil {
		slog.Warn("verdict cache read failed", "error", err)
	} else if data != nil {
		var v domain.Verdict
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}

	v, err := h.deps.Engine.Evaluate(ctx, domain.DetectorPhishing, url)
	if err != nil {
		return v, err
	}

	data, _ := json.Marshal(v)
	if err := h.deps.Cache.Set(ctx, key, data, h.deps.VerdictTTL); err != nil {
		slog.Warn("verdict cache write failed", "error", err)
	}
	return v, nil
}

// verdictKey names a memoized phishing verdict by the URL's 128-bit murmur3 hash.
func verdictKey(url string) string {
	h1, h2 := murmur3.Sum128([]byte(url))
	return fmt.Sprintf("verdict:phishing:%016x%016x", h1, h2)
}

// respond records the verdict, waits out the configured latency and writes
// either the detector's result or, with ?explain=true, the full verdict.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v domain.Verdict, result any) {
	ctx := r.Context()

	if h.deps.Stats != nil {
		if err := h.deps.Stats.Record(ctx, v.Detector, v.Positive); err != nil {
			slog.Warn("failed to record stats",
				"detector", v.Detector,
				"error", err,
			)
		}
	}

	if err := h.simulateLatency(ctx, v.Detector); err != nil {
		// Client went away; nobody is left to answer.
		return
	}

	if r.URL.Query().Get("explain") == "true" {
		writeJSON(w, http.StatusOK, v)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) simulateLatency(ctx context.Context, d domain.Detector) error {
	delay := h.deps.Latency.For(d)
	if delay <= 0 {
		return nil
	}

	timer := h.deps.Clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sample returns one synthetic sample for a detector with a generator.
func (h *Handler) Sample(w http.ResponseWriter, r *http.Request) {
	if h.deps.Generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "generator not available"})
		return
	}

	d := domain.Detector(chi.URLParam(r, "detector"))
	sample, err := h.deps.Generator.Sample(d)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Field: "detector"})
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// StartSimulation handles POST /simulation/start requests.
func (h *Handler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "simulation not available"})
		return
	}

	var req StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.deps.Feed.Start(h.deps.FeedContext, req.Mode)
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
		return
	case errors.Is(err, feed.ErrRunning):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		slog.Error("failed to start simulation", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to start simulation"})
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Feed.Snapshot())
}

// StopSimulation handles POST /simulation/stop requests.
func (h *Handler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "simulation not available"})
		return
	}

	h.deps.Feed.Stop()
	writeJSON(w, http.StatusOK, h.deps.Feed.Snapshot())
}

// GetSimulation returns the feed state and log.
func (h *Handler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "simulation not available"})
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Feed.Snapshot())
}

// Stats returns the dashboard counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "stats not available"})
		return
	}

	snap, err := h.deps.Stats.Snapshot(r.Context())
	if err != nil {
		slog.Error("failed to read stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read stats"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return false
	}
	return true
}

func writeScoringError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
		return
	}

	slog.Error("scoring failed",
		"error", err,
		"trace_id", GetTraceID(r.Context()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "scoring failed"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
