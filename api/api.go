package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"word-finder/content"
	"word-finder/feed"
	"word-finder/metrics"
	"word-finder/ranker"
)

const (
	maxSlots     = 20
	maxBodyBytes = 1 << 16
)

// FeedBuilder builds feeds and resolves card interactions.
type FeedBuilder interface {
	Build(ctx context.Context, p feed.Params, renderer feed.Renderer) (*feed.Feed, error)
	EndImpression(ctx context.Context, cardID string, dwellSeconds float64) error
	Feedback(ctx context.Context, cardID string, liked bool) (*feed.Card, error)
}

// StatsProvider exposes the engagement record.
type StatsProvider interface {
	Snapshot() *metrics.Record
	Rank() []ranker.RankedType
	Recommend(query string) []string
}

// Server serves the HTTP API.
type Server struct {
	builder FeedBuilder
	stats   StatsProvider
	router  chi.Router
}

// NewServer creates the API server and its routes.
func NewServer(builder FeedBuilder, stats StatsProvider) *Server {
	s := &Server{builder: builder, stats: stats}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/feed", s.handleFeed)
	r.Route("/cards/{id}", func(r chi.Router) {
		r.Post("/impression-end", s.handleImpressionEnd)
		r.Post("/feedback", s.handleFeedback)
	})
	r.Get("/recommendations", s.handleRecommendations)
	r.Get("/stats", s.handleStats)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type errorResponse struct {
	Error string `json:"error"`
}

type impressionEndRequest struct {
	DwellSeconds float64 `json:"dwellSeconds"`
}

type feedbackRequest struct {
	Liked *bool `json:"liked"`
}

type recommendationsResponse struct {
	Words []string `json:"words"`
}

type rankedTypeResponse struct {
	Type          content.Type `json:"type"`
	Engagement    float64      `json:"engagement"`
	FeedbackBonus float64      `json:"feedbackBonus"`
	FinalScore    float64      `json:"finalScore"`
}

type statsResponse struct {
	Metrics *metrics.Record      `json:"metrics"`
	Ranking []rankedTypeResponse `json:"ranking"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	client := q.Get("client")
	if client == "" {
		client = "anonymous"
	}

	var slots int
	if raw := q.Get("slots"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSlots {
			writeError(w, http.StatusBadRequest, "slots must be a number between 1 and 20")
			return
		}
		slots = n
	}

	f, err := s.builder.Build(r.Context(), feed.Params{
		Target: "http:" + client,
		Query:  strings.TrimSpace(q.Get("q")),
		Slots:  slots,
	}, discardRenderer{})
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrSuperseded):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, context.Canceled):
			// Client went away; nothing to write.
		default:
			slog.Error("feed build failed", "client", client, "error", err)
			writeError(w, http.StatusInternalServerError, "feed build failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleImpressionEnd(w http.ResponseWriter, r *http.Request) {
	var req impressionEndRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DwellSeconds > metrics.MaxDwellSeconds {
		writeError(w, http.StatusBadRequest, "dwellSeconds must be at most "+strconv.Itoa(metrics.MaxDwellSeconds))
		return
	}

	err := s.builder.EndImpression(r.Context(), chi.URLParam(r, "id"), req.DwellSeconds)
	if !s.cardResult(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Liked == nil {
		writeError(w, http.StatusBadRequest, "liked is required")
		return
	}

	_, err := s.builder.Feedback(r.Context(), chi.URLParam(r, "id"), *req.Liked)
	if !s.cardResult(w, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cardResult(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, feed.ErrCardNotFound) {
		writeError(w, http.StatusNotFound, "card not found")
		return false
	}
	slog.Error("card interaction failed", "error", err)
	writeError(w, http.StatusInternalServerError, "card interaction failed")
	return false
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	words := s.stats.Recommend(strings.TrimSpace(r.URL.Query().Get("q")))
	if words == nil {
		words = []string{}
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Words: words})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ranked := s.stats.Rank()
	resp := statsResponse{
		Metrics: s.stats.Snapshot(),
		Ranking: make([]rankedTypeResponse, len(ranked)),
	}
	for i, rt := range ranked {
		resp.Ranking[i] = rankedTypeResponse(rt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// discardRenderer drops render calls; HTTP clients read the returned feed.
type discardRenderer struct{}

func (discardRenderer) RenderCard(ctx context.Context, card *feed.Card) error { return nil }
func (discardRenderer) RenderRelated(ctx context.Context, words []string) error {
	return nil
}
