package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/inbox"
	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
	"github.com/capitalize-ai/outreach-engine/pkg/metrics"
)

// WebhookHandler accepts provider callbacks and queues them for the
// conversation service.
type WebhookHandler struct {
	queue  inbox.Queue
	logger *logger.Logger
	now    func() time.Time
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(queue inbox.Queue, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:  queue,
		logger: log,
		now:    time.Now,
	}
}

// Inbound handles POST /webhooks/{channel}/inbound
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	var ev model.InboundEvent
	if err := decodeLenient(r, &ev); err != nil {
		h.reject(w, r, channel, err)
		return
	}
	ev.Channel = channel
	ev.SenderHandle = strings.TrimSpace(ev.SenderHandle)
	if ev.SenderHandle == "" {
		h.reject(w, r, channel, apperr.Validation("sender_handle is required"))
		return
	}
	if err := middleware.ValidateMessageContent(ev.Content); err != nil {
		h.reject(w, r, channel, apperr.Validation("%v", err))
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}

	h.enqueue(w, r, inbox.InboundJob(ev))
}

// Status handles POST /webhooks/{channel}/status
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	var ev model.DeliveryEvent
	if err := decodeLenient(r, &ev); err != nil {
		h.reject(w, r, channel, err)
		return
	}
	ev.Channel = channel
	if ev.ProviderMessageID == "" {
		h.reject(w, r, channel, apperr.Validation("provider_message_id is required"))
		return
	}
	if !dispatch.KnownDeliveryStatus(ev.Status) {
		h.reject(w, r, channel, apperr.Validation("unknown delivery status %q", ev.Status))
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}

	h.enqueue(w, r, inbox.DeliveryJob(ev))
}

func (h *WebhookHandler) channel(w http.ResponseWriter, r *http.Request) (model.Channel, bool) {
	c, err := model.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return c, true
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, c model.Channel, err error) {
	metrics.WebhooksReceived.WithLabelValues(string(c), "rejected").Inc()
	fail(w, r, h.logger, err)
}

func (h *WebhookHandler) enqueue(w http.ResponseWriter, r *http.Request, job inbox.Job) {
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		metrics.WebhooksReceived.WithLabelValues(string(job.Channel()), "error").Inc()
		h.logger.Error("failed to queue webhook event",
			zap.String("job", job.String()),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "event could not be queued")
		return
	}
	metrics.WebhooksReceived.WithLabelValues(string(job.Channel()), "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// decodeLenient reads a provider payload. Providers add fields freely, so
// unknown ones are ignored.
func decodeLenient(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return apperr.Validation("invalid webhook payload: %v", err)
	}
	return nil
}
