// Package handler implements the HTTP surface of the chat service.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/middleware"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/service"
	"github.com/docuchat/docuchat/pkg/metrics"
)

// ChatHandler handles the chat endpoints.
type ChatHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orchestrator *service.Orchestrator, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		logger:       log,
	}
}

// Chat handles POST /chat/
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		req.UserID = userID
	}

	if req.Stream {
		h.stream(w, r, &req)
		return
	}

	resp, err := h.orchestrator.Chat(r.Context(), &req)
	if err != nil {
		h.logger.Error("chat request failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// stream answers the request over SSE: one data event per delta, a [DONE]
// marker on success, or a single error event on failure.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, req *model.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	_, err := h.orchestrator.ChatStream(r.Context(), req, func(delta string) error {
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", delta); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful left to write.
			h.logger.Info("stream cancelled by client", zap.Error(err))
			return
		}
		h.logger.Error("stream failed", zap.Error(err))
		fmt.Fprintf(w, "data: Error: %s\n\n", streamErrorMessage(err))
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func streamErrorMessage(err error) string {
	var cfgErr *config.ConfigurationError
	var genErr *service.GenerationError
	switch {
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	case errors.As(err, &genErr):
		return genErr.Error()
	default:
		return err.Error()
	}
}

// Debug handles GET /chat/debug
func (h *ChatHandler) Debug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orchestrator.Debug())
}

// Configure handles POST /chat/config, rebuilding the pipeline atomically.
func (h *ChatHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var cfg config.AppConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid configuration body")
		return
	}

	pipeline, err := h.orchestrator.Reconfigure(r.Context(), cfg)
	if err != nil {
		h.logger.Error("reconfiguration rejected", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pipeline.Health())
}
