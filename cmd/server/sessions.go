package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/corpuschat"
)

// sessionHub owns the live chat sessions, keyed by uuid. The hub mutex only
// guards the map; each Chat serializes its own turns.
type sessionHub struct {
	engine *corpuschat.Engine

	mu    sync.Mutex
	chats map[string]*corpuschat.Chat
}

func newSessionHub(engine *corpuschat.Engine) *sessionHub {
	return &sessionHub{engine: engine, chats: make(map[string]*corpuschat.Chat)}
}

func (h *sessionHub) get(id string) (*corpuschat.Chat, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chat, ok := h.chats[id]
	return chat, ok
}

// POST /sessions
// The body is optional: {"user_label": "...", "strict": bool} overrides the
// log label and the engine's strict-mode default for this session.
func (h *sessionHub) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserLabel string `json:"user_label"`
		Strict    *bool  `json:"strict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id := uuid.NewString()
	label := req.UserLabel
	if label == "" {
		label = id
	}
	opts := []corpuschat.ChatOption{corpuschat.WithUserLabel(label)}
	if req.Strict != nil {
		opts = append(opts, corpuschat.WithStrict(*req.Strict))
	}
	chat := h.engine.NewChat(opts...)

	h.mu.Lock()
	h.chats[id] = chat
	h.mu.Unlock()

	slog.Info("session created", "session", id)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// POST /sessions/{id}/input
func (h *sessionHub) handleInput(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// A turn can span several provider calls when the model requests more
	// sections, so give it room.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	resp, err := chat.UserInput(ctx, req.Text)
	if err != nil {
		// Only cancellation comes back as an error; the session is unchanged
		// and the question can be retried.
		writeError(w, http.StatusGatewayTimeout, "turn cancelled")
		slog.Error("input error", "session", r.PathValue("id"), "error", err)
		return
	}

	body := responseJSON(resp)
	body["state"] = string(chat.State())
	writeJSON(w, http.StatusOK, body)
}

// GET /sessions/{id}/transcript
func (h *sessionHub) handleTranscript(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	type entryView struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	entries := chat.Transcript()
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{Role: e.Role, Content: e.Content})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      string(chat.State()),
		"transcript": views,
	})
}

// POST /sessions/{id}/reset
func (h *sessionHub) handleReset(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	chat.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// DELETE /sessions/{id}
func (h *sessionHub) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	_, ok := h.chats[id]
	delete(h.chats, id)
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	slog.Info("session deleted", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// responseJSON renders a Response for the wire. Every variant carries its
// kind and its transcript rendering; the typed fields come along per
// variant.
func responseJSON(resp corpuschat.Response) map[string]interface{} {
	body := map[string]interface{}{
		"kind": resp.Kind(),
		"text": resp.TranscriptText(),
	}
	switch r := resp.(type) {
	case corpuschat.AnswerWithRAG:
		body["answer"] = r.Answer
		refs := make([]map[string]interface{}, 0, len(r.References))
		for _, ref := range r.References {
			refs = append(refs, map[string]interface{}{
				"document":      ref.DocumentKey,
				"document_name": ref.DocumentName,
				"section":       ref.SectionReference,
				"is_definition": ref.IsDefinition,
				"text":          ref.Text,
			})
		}
		body["references"] = refs
	case corpuschat.AnswerWithoutRAG:
		body["answer"] = r.Answer
		body["caveat"] = r.Caveat
	case corpuschat.NoAnswer:
		body["classification"] = r.Classification.String()
		if r.Explanation != "" {
			body["explanation"] = r.Explanation
		}
	case corpuschat.ErrorResponse:
		body["classification"] = r.Classification.String()
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
