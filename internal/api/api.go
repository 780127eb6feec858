// Package api exposes the identification engine over HTTP.
//
// The surface is a plain JSON API under /v1 plus the operational endpoints
// /healthz, /readyz and /metrics. GET /v1/events upgrades to a WebSocket
// carrying the engine's live activity feed. When an MCP handler is supplied
// it is mounted under /mcp.
//
// Errors are JSON objects with "error" (human-readable message) and "kind"
// ("bad_request", "not_found", "conflict", "unavailable" or "internal").
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auricle-labs/timbre/internal/health"
	"github.com/auricle-labs/timbre/internal/observe"
	"github.com/auricle-labs/timbre/pkg/extract"
	"github.com/auricle-labs/timbre/pkg/ident"
)

// Config wires a [Server]'s collaborators.
type Config struct {
	// Engine handles identification, feedback and the speaker registry.
	Engine *ident.Engine

	// Extractor turns audio into embedding vectors for /v1/identify/audio.
	// Nil disables the endpoint (501).
	Extractor extract.Extractor

	// Metrics receives request and decision measurements. Nil falls back to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz. Nil gets a checker-less handler.
	Health *health.Handler

	// MCP, when non-nil, is mounted under /mcp.
	MCP http.Handler
}

// Server is the HTTP front of the identification engine.
type Server struct {
	engine    *ident.Engine
	extractor extract.Extractor
	metrics   *observe.Metrics
	health    *health.Handler
	mcp       http.Handler
}

// New creates a [Server] from cfg. cfg.Engine must be non-nil.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New("")
	}
	return &Server{
		engine:    cfg.Engine,
		extractor: cfg.Extractor,
		metrics:   cfg.Metrics,
		health:    cfg.Health,
		mcp:       cfg.MCP,
	}
}

// Handler returns the fully-routed handler, wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/identify", s.identify)
	mux.HandleFunc("POST /v1/identify/audio", s.identifyAudio)
	mux.HandleFunc("POST /v1/feedback", s.feedback)

	mux.HandleFunc("POST /v1/speakers", s.registerSpeaker)
	mux.HandleFunc("GET /v1/speakers", s.listSpeakers)
	mux.HandleFunc("GET /v1/speakers/{id}", s.getSpeaker)
	mux.HandleFunc("PATCH /v1/speakers/{id}", s.updateSpeaker)
	mux.HandleFunc("DELETE /v1/speakers/{id}", s.deleteSpeaker)
	mux.HandleFunc("GET /v1/speakers/{id}/stats", s.speakerStats)
	mux.HandleFunc("GET /v1/speakers/{id}/embeddings", s.speakerEmbeddings)

	mux.HandleFunc("GET /v1/events/{id}", s.getEvent)
	mux.HandleFunc("GET /v1/events", s.feed)
	mux.HandleFunc("GET /v1/stats", s.overview)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	return observe.Middleware(s.metrics)(mux)
}
