package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/service"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// ConversationHandler handles conversation and negotiation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Routes mounts the conversation endpoints on r.
func (h *ConversationHandler) Routes(r chi.Router) {
	r.Post("/conversations/{id}/close", h.Close)
	r.Post("/conversations/{id}/reopen", h.Reopen)

	r.Post("/campaigns/{id}/negotiations", h.StartNegotiation)
	r.Get("/negotiations/{id}", h.GetNegotiation)
	r.Post("/negotiations/{id}/replies", h.NegotiationReply)
}

// Close handles POST /api/v1/conversations/{id}/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	conv, err := h.service.CloseConversation(ctx, middleware.GetOwnerID(ctx), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Reopen handles POST /api/v1/conversations/{id}/reopen
func (h *ConversationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id", "conversation")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	conv, err := h.service.ReopenConversation(ctx, middleware.GetOwnerID(ctx), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// StartNegotiation handles POST /api/v1/campaigns/{id}/negotiations
func (h *ConversationHandler) StartNegotiation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	var req model.StartNegotiationRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	n, err := h.service.StartNegotiation(ctx, middleware.GetOwnerID(ctx), campaignID, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GetNegotiation handles GET /api/v1/negotiations/{id}
func (h *ConversationHandler) GetNegotiation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id", "negotiation")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	n, err := h.service.GetNegotiation(ctx, middleware.GetOwnerID(ctx), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// NegotiationReply handles POST /api/v1/negotiations/{id}/replies
func (h *ConversationHandler) NegotiationReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := pathID(r, "id", "negotiation")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	var req model.NegotiationReplyRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	n, err := h.service.NegotiationReply(ctx, middleware.GetOwnerID(ctx), id, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
