// Package mcptools exposes the speaker registry and feedback loop as Model
// Context Protocol tools, so assistants wired into a transcription pipeline
// can look up speakers, inspect statistics, fix names, and submit
// verification feedback without touching the REST surface.
//
// The server speaks the streamable HTTP transport; [Handler] returns the
// mountable [http.Handler].
package mcptools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/auricle-labs/timbre/pkg/ident"
)

// tools bundles the engine behind the tool handlers.
type tools struct {
	engine *ident.Engine
}

// NewServer builds an MCP server exposing the identification tool set.
func NewServer(engine *ident.Engine, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "timbre", Version: version}, nil)
	t := &tools{engine: engine}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_speakers",
		Description: "List enrolled speakers, optionally filtered by a case-insensitive name substring.",
	}, t.listSpeakers)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "speaker_stats",
		Description: "Per-speaker statistics: sample count, confidence summary, and last matched time.",
	}, t.speakerStats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rename_speaker",
		Description: "Rename an enrolled speaker. Stored voice samples and history are unaffected.",
	}, t.renameSpeaker)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "submit_feedback",
		Description: "Confirm or reject an identification result, optionally naming the true speaker.",
	}, t.submitFeedback)

	return srv
}

// Handler wraps srv in the streamable HTTP transport for mounting under /mcp.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// toolError converts a domain failure into an in-band tool error, keeping the
// MCP session itself healthy.
func toolError[T any](err error) (*mcp.CallToolResult, T, error) {
	var zero T
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}, zero, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// list_speakers
// ─────────────────────────────────────────────────────────────────────────────

type listSpeakersInput struct {
	Query string `json:"query,omitempty" jsonschema:"name substring to filter by; empty lists everyone"`
}

type speakerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listSpeakersOutput struct {
	Speakers []speakerSummary `json:"speakers"`
}

func (t *tools) listSpeakers(ctx context.Context, _ *mcp.CallToolRequest, in listSpeakersInput) (*mcp.CallToolResult, listSpeakersOutput, error) {
	speakers, err := t.engine.Speakers(ctx, in.Query)
	if err != nil {
		return toolError[listSpeakersOutput](err)
	}
	out := listSpeakersOutput{Speakers: make([]speakerSummary, len(speakers))}
	for i, sp := range speakers {
		out.Speakers[i] = speakerSummary{ID: sp.ID, Name: sp.Name}
	}
	return nil, out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// speaker_stats
// ─────────────────────────────────────────────────────────────────────────────

type speakerStatsInput struct {
	SpeakerID string `json:"speaker_id" jsonschema:"ID of the speaker to inspect"`
}

func (t *tools) speakerStats(ctx context.Context, _ *mcp.CallToolRequest, in speakerStatsInput) (*mcp.CallToolResult, ident.SpeakerStats, error) {
	if in.SpeakerID == "" {
		return toolError[ident.SpeakerStats](fmt.Errorf("speaker_id is required"))
	}
	if _, err := t.engine.Speaker(ctx, in.SpeakerID); err != nil {
		return toolError[ident.SpeakerStats](err)
	}
	stats, err := t.engine.Stats(ctx, in.SpeakerID)
	if err != nil {
		return toolError[ident.SpeakerStats](err)
	}
	return nil, *stats, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// rename_speaker
// ─────────────────────────────────────────────────────────────────────────────

type renameSpeakerInput struct {
	SpeakerID string `json:"speaker_id" jsonschema:"ID of the speaker to rename"`
	Name      string `json:"name" jsonschema:"new display name"`
}

type renameSpeakerOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (t *tools) renameSpeaker(ctx context.Context, _ *mcp.CallToolRequest, in renameSpeakerInput) (*mcp.CallToolResult, renameSpeakerOutput, error) {
	if in.SpeakerID == "" || in.Name == "" {
		return toolError[renameSpeakerOutput](fmt.Errorf("speaker_id and name are required"))
	}
	sp, err := t.engine.UpdateSpeaker(ctx, in.SpeakerID, in.Name, nil)
	if err != nil {
		return toolError[renameSpeakerOutput](err)
	}
	return nil, renameSpeakerOutput{ID: sp.ID, Name: sp.Name}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// submit_feedback
// ─────────────────────────────────────────────────────────────────────────────

type submitFeedbackInput struct {
	EventID       string `json:"event_id,omitempty" jsonschema:"identification event being verified"`
	EmbeddingID   string `json:"embedding_id,omitempty" jsonschema:"stored embedding to address directly"`
	Agrees        bool   `json:"agrees" jsonschema:"true when the match was correct"`
	CorrectedName string `json:"corrected_name,omitempty" jsonschema:"true speaker's name when the match was wrong"`
}

func (t *tools) submitFeedback(ctx context.Context, _ *mcp.CallToolRequest, in submitFeedbackInput) (*mcp.CallToolResult, ident.FeedbackResult, error) {
	result, err := t.engine.Feedback(ctx, ident.FeedbackRequest{
		EventID:       in.EventID,
		EmbeddingID:   in.EmbeddingID,
		Agrees:        in.Agrees,
		CorrectedName: in.CorrectedName,
	})
	if err != nil {
		return toolError[ident.FeedbackResult](err)
	}
	return nil, *result, nil
}
