package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/service"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// MessageHandler handles outbound message endpoints.
type MessageHandler struct {
	service *service.CampaignService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.CampaignService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// Routes mounts the message endpoints on r.
func (h *MessageHandler) Routes(r chi.Router) {
	r.Post("/campaigns/{id}/messages", h.Send)
	r.Post("/campaigns/{id}/messages/bulk", h.SendBulk)
	r.Get("/campaigns/{id}/messages", h.List)
}

// Send handles POST /api/v1/campaigns/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	var req model.SendMessageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if req.Content != "" {
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			fail(w, r, h.logger, apperr.Validation("%v", err))
			return
		}
	}

	msg, err := h.service.SendMessage(ctx, middleware.GetOwnerID(ctx), campaignID, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// SendBulk handles POST /api/v1/campaigns/{id}/messages/bulk
func (h *MessageHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	var req model.BulkSendRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	res, err := h.service.SendBulk(ctx, middleware.GetOwnerID(ctx), campaignID, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// List handles GET /api/v1/campaigns/{id}/messages?target_id=&channel=&status=
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	query := service.MessageQuery{
		TargetID: q.Get("target_id"),
		Channel:  model.Channel(q.Get("channel")),
		Status:   model.MessageStatus(q.Get("status")),
	}

	messages, err := h.service.ListMessages(ctx, middleware.GetOwnerID(ctx), campaignID, query)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}
