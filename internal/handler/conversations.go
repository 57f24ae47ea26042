package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/middleware"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/service"
)

// ConversationHandler handles the conversation CRUD endpoints.
type ConversationHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(orchestrator *service.Orchestrator, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		orchestrator: orchestrator,
		logger:       log,
	}
}

// Create handles POST /chat/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		req.UserID = userID
	}

	conv, err := h.orchestrator.CreateConversation(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv.Info())
}

// List handles GET /chat/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}

	infos, err := h.orchestrator.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ConversationListResponse{
		Conversations: infos,
		Total:         len(infos),
	})
}

// Get handles GET /chat/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.orchestrator.GetConversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ConversationHistoryResponse{
		Conversation: conv.Info(),
		Messages:     conv.Messages,
	})
}

// Delete handles DELETE /chat/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orchestrator.DeleteConversation(r.Context(), id); err != nil {
		h.logger.Error("failed to delete conversation", zap.String("conversation_id", id), zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
