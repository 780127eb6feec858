package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/auricle-labs/timbre/pkg/ident"
)

// maxAudioBytes caps /v1/identify/audio request bodies.
const maxAudioBytes = 25 << 20

// ─────────────────────────────────────────────────────────────────────────────
// Wire shapes
// ─────────────────────────────────────────────────────────────────────────────

type identifyRequest struct {
	Vector    []float32 `json:"vector"`
	JobID     string    `json:"job_id"`
	SegmentID string    `json:"segment_id"`
}

type registerRequest struct {
	Name     string            `json:"name"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`

	SourceFile   string  `json:"source_file"`
	SegmentStart float64 `json:"segment_start"`
	SegmentEnd   float64 `json:"segment_end"`
}

type updateSpeakerRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

type speakerJSON struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// embeddingJSON deliberately omits the raw vector: clients manage samples by
// ID and confidence, and a 512-float payload per row helps nobody.
type embeddingJSON struct {
	ID           string    `json:"id"`
	SpeakerID    string    `json:"speaker_id"`
	Confidence   float64   `json:"confidence"`
	Dimensions   int       `json:"dimensions"`
	SourceFile   string    `json:"source_file,omitempty"`
	SegmentStart float64   `json:"segment_start,omitempty"`
	SegmentEnd   float64   `json:"segment_end,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type eventJSON struct {
	ID          string          `json:"id"`
	SpeakerID   string          `json:"speaker_id,omitempty"`
	EmbeddingID string          `json:"embedding_id,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	SegmentID   string          `json:"segment_id,omitempty"`
	Score       float64         `json:"score"`
	Tier        ident.Tier      `json:"tier"`
	Kind        ident.EventKind `json:"kind"`
	Verified    bool            `json:"verified"`
	CreatedAt   time.Time       `json:"created_at"`
}

type registerResponse struct {
	Speaker   speakerJSON   `json:"speaker"`
	Embedding embeddingJSON `json:"embedding"`
}

func toSpeakerJSON(sp *ident.Speaker) speakerJSON {
	return speakerJSON{
		ID:        sp.ID,
		Name:      sp.Name,
		Metadata:  sp.Metadata,
		CreatedAt: sp.CreatedAt,
		UpdatedAt: sp.UpdatedAt,
	}
}

func toEmbeddingJSON(emb *ident.Embedding) embeddingJSON {
	return embeddingJSON{
		ID:           emb.ID,
		SpeakerID:    emb.SpeakerID,
		Confidence:   emb.Confidence,
		Dimensions:   len(emb.Vector),
		SourceFile:   emb.Provenance.SourceFile,
		SegmentStart: emb.Provenance.SegmentStart,
		SegmentEnd:   emb.Provenance.SegmentEnd,
		CreatedAt:    emb.CreatedAt,
	}
}

func toEventJSON(ev *ident.IdentificationEvent) eventJSON {
	return eventJSON{
		ID:          ev.ID,
		SpeakerID:   ev.SpeakerID,
		EmbeddingID: ev.EmbeddingID,
		JobID:       ev.Context.JobID,
		SegmentID:   ev.Context.SegmentID,
		Score:       ev.Score,
		Tier:        ev.Tier,
		Kind:        ev.Kind,
		Verified:    ev.Verified,
		CreatedAt:   ev.CreatedAt,
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Identification
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Vector) == 0 {
		writeError(w, r, badRequest("vector must not be empty"))
		return
	}
	s.runIdentify(w, r, req.Vector, ident.QueryContext{
		JobID:     req.JobID,
		SegmentID: req.SegmentID,
	})
}

func (s *Server) identifyAudio(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{
			Error: "no embedding extractor is configured",
			Kind:  "unavailable",
		})
		return
	}

	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		writeError(w, r, badRequest("read audio body: "+err.Error()))
		return
	}
	if len(audio) == 0 {
		writeError(w, r, badRequest("audio body must not be empty"))
		return
	}

	start := time.Now()
	vector, err := s.extractor.Extract(r.Context(), audio)
	s.metrics.ExtractDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	s.runIdentify(w, r, vector, ident.QueryContext{
		JobID:     q.Get("job_id"),
		SegmentID: q.Get("segment_id"),
	})
}

func (s *Server) runIdentify(w http.ResponseWriter, r *http.Request, vector []float32, qctx ident.QueryContext) {
	start := time.Now()
	decision, err := s.engine.Identify(r.Context(), vector, qctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.RecordDecision(r.Context(), string(decision.Tier), time.Since(start))
	writeJSON(w, http.StatusOK, decision)
}

// ─────────────────────────────────────────────────────────────────────────────
// Feedback
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req ident.FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	outcome := "reject"
	if req.Agrees {
		outcome = "agree"
	}

	result, err := s.engine.Feedback(r.Context(), req)
	if err != nil {
		s.metrics.RecordFeedback(r.Context(), outcome, "failed")
		writeError(w, r, err)
		return
	}
	s.metrics.RecordFeedback(r.Context(), outcome, "ok")
	writeJSON(w, http.StatusOK, result)
}

// ─────────────────────────────────────────────────────────────────────────────
// Speaker registry
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) registerSpeaker(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, badRequest("name must not be empty"))
		return
	}
	if len(req.Vector) == 0 {
		writeError(w, r, badRequest("vector must not be empty"))
		return
	}

	sp, emb, err := s.engine.Register(r.Context(), req.Name, req.Vector, req.Metadata, ident.Provenance{
		SourceFile:   req.SourceFile,
		SegmentStart: req.SegmentStart,
		SegmentEnd:   req.SegmentEnd,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Speaker:   toSpeakerJSON(sp),
		Embedding: toEmbeddingJSON(emb),
	})
}

func (s *Server) listSpeakers(w http.ResponseWriter, r *http.Request) {
	speakers, err := s.engine.Speakers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]speakerJSON, len(speakers))
	for i := range speakers {
		out[i] = toSpeakerJSON(&speakers[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSpeaker(w http.ResponseWriter, r *http.Request) {
	sp, err := s.engine.Speaker(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSpeakerJSON(sp))
}

func (s *Server) updateSpeaker(w http.ResponseWriter, r *http.Request) {
	var req updateSpeakerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sp, err := s.engine.UpdateSpeaker(r.Context(), r.PathValue("id"), req.Name, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSpeakerJSON(sp))
}

func (s *Server) deleteSpeaker(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSpeaker(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) speakerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) speakerEmbeddings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.engine.Speaker(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	embeddings, err := s.engine.Embeddings(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]embeddingJSON, len(embeddings))
	for i := range embeddings {
		out[i] = toEmbeddingJSON(&embeddings[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// ─────────────────────────────────────────────────────────────────────────────
// Events and statistics
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.Event(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(ev))
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Overview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
