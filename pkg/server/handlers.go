package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/usecase/turn"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	ChatMode       string `json:"chat_mode,omitempty"`
	Incognito      bool   `json:"incognito,omitempty"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	UICommand      string `json:"ui_command,omitempty"`
	ModeSwitch     string `json:"mode_switch,omitempty"`
	MentalState    string `json:"mental_state"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	out, err := s.turns.HandleTurn(r.Context(), &turn.Input{
		ConversationID: model.ConversationID(req.ConversationID),
		OwnerID:        OwnerFromContext(r.Context()),
		Text:           req.Message,
		ChatMode:       model.ChatMode(req.ChatMode),
		Incognito:      req.Incognito,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		logging.From(r.Context()).Error("turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: string(out.ConversationID),
		Reply:          out.Reply,
		UICommand:      string(out.UICommand),
		ModeSwitch:     string(out.ModeSwitch),
		MentalState:    string(out.MentalState),
	})
}

type sessionItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	MentalState string    `json:"mental_state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.repo.ListConversations(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		logging.From(r.Context()).Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list sessions")
		return
	}

	items := make([]sessionItem, 0, len(convs))
	for _, conv := range convs {
		items = append(items, sessionItem{
			ID:          string(conv.ID),
			Title:       conv.Title,
			MentalState: string(conv.MentalState),
			CreatedAt:   conv.CreatedAt,
			UpdatedAt:   conv.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSessionRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	id := model.ConversationID(chi.URLParam(r, "id"))
	err := s.repo.RenameConversation(r.Context(), OwnerFromContext(r.Context()), id, req.Title)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		logging.From(r.Context()).Error("failed to rename conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to rename session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := model.ConversationID(chi.URLParam(r, "id"))
	err := s.repo.DeleteConversation(r.Context(), OwnerFromContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		logging.From(r.Context()).Error("failed to delete conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type memoryItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	records, err := s.memories.List(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		logging.From(r.Context()).Error("failed to list memories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list memories")
		return
	}

	items := make([]memoryItem, 0, len(records))
	for _, record := range records {
		items = append(items, memoryItem{
			ID:        string(record.ID),
			Text:      record.Text,
			CreatedAt: record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": items})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id := model.MemoryID(chi.URLParam(r, "id"))
	err := s.memories.Forget(r.Context(), OwnerFromContext(r.Context()), id)
	if err != nil {
		if errors.Is(err, repository.ErrMemoryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		logging.From(r.Context()).Error("failed to delete memory", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
