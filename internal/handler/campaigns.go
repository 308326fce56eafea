// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/analytics"
	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/service"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// CampaignHandler handles campaign, target, rule, analytics and credential
// endpoints.
type CampaignHandler struct {
	service *service.CampaignService
	logger  *logger.Logger
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(svc *service.CampaignService, log *logger.Logger) *CampaignHandler {
	return &CampaignHandler{
		service: svc,
		logger:  log,
	}
}

// Routes mounts the campaign endpoints on r.
func (h *CampaignHandler) Routes(r chi.Router) {
	r.Post("/campaigns", h.Create)
	r.Get("/campaigns", h.List)
	r.Get("/campaigns/{id}", h.Get)
	r.Delete("/campaigns/{id}", h.Delete)
	r.Put("/campaigns/{id}/status", h.UpdateStatus)
	r.Put("/campaigns/{id}/agent", h.ConfigureAgent)

	r.Post("/campaigns/{id}/discover", h.Discover)
	r.Post("/campaigns/{id}/targets", h.AddTargets)
	r.Get("/campaigns/{id}/targets", h.ListTargets)

	r.Post("/campaigns/{id}/rules", h.CreateRule)
	r.Get("/campaigns/{id}/rules", h.ListRules)

	r.Get("/campaigns/{id}/analytics", h.Analytics)
	r.Get("/campaigns/{id}/analytics/export", h.ExportAnalytics)

	r.Put("/credentials/{channel}", h.StoreCredential)
	r.Post("/credentials/{channel}/validate", h.ValidateCredential)
}

// Create handles POST /api/v1/campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCampaignRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	c, err := h.service.Create(r.Context(), middleware.GetOwnerID(r.Context()), &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List handles GET /api/v1/campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), middleware.GetOwnerID(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": list})
}

// Get handles GET /api/v1/campaigns/{id}
func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	c, err := h.service.Get(r.Context(), middleware.GetOwnerID(r.Context()), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Delete handles DELETE /api/v1/campaigns/{id}
func (h *CampaignHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), middleware.GetOwnerID(r.Context()), id); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStatus handles PUT /api/v1/campaigns/{id}/status
func (h *CampaignHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req model.UpdateStatusRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	c, err := h.service.UpdateStatus(r.Context(), middleware.GetOwnerID(r.Context()), id, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ConfigureAgent handles PUT /api/v1/campaigns/{id}/agent
func (h *CampaignHandler) ConfigureAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var agent model.AgentConfig
	if err := decode(r, &agent); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	c, err := h.service.ConfigureAgent(r.Context(), middleware.GetOwnerID(r.Context()), id, &agent)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Discover handles POST /api/v1/campaigns/{id}/discover
func (h *CampaignHandler) Discover(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req model.DiscoverRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	targets, err := h.service.DiscoverTargets(r.Context(), middleware.GetOwnerID(r.Context()), id, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"targets": targets})
}

// AddTargets handles POST /api/v1/campaigns/{id}/targets
func (h *CampaignHandler) AddTargets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req model.AddTargetsRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	targets, err := h.service.AddTargets(r.Context(), middleware.GetOwnerID(r.Context()), id, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"targets": targets})
}

// ListTargets handles GET /api/v1/campaigns/{id}/targets?stage=&channel=
func (h *CampaignHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	targets, err := h.service.ListTargets(r.Context(), middleware.GetOwnerID(r.Context()), id,
		model.Stage(q.Get("stage")), model.Channel(q.Get("channel")))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": targets})
}

// CreateRule handles POST /api/v1/campaigns/{id}/rules
func (h *CampaignHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req model.CreateRuleRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	rule, err := h.service.CreateRule(r.Context(), middleware.GetOwnerID(r.Context()), id, &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// ListRules handles GET /api/v1/campaigns/{id}/rules
func (h *CampaignHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	list, err := h.service.ListRules(r.Context(), middleware.GetOwnerID(r.Context()), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list})
}

func (h *CampaignHandler) analyticsQuery(r *http.Request) (analytics.Query, error) {
	id, err := pathID(r, "id", "campaign")
	if err != nil {
		return analytics.Query{}, err
	}
	from, err := queryTime(r, "from")
	if err != nil {
		return analytics.Query{}, err
	}
	to, err := queryTime(r, "to")
	if err != nil {
		return analytics.Query{}, err
	}
	return analytics.Query{CampaignID: id, From: from, To: to, Bypass: queryBool(r, "fresh")}, nil
}

// Analytics handles GET /api/v1/campaigns/{id}/analytics?from=&to=&fresh=
func (h *CampaignHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	q, err := h.analyticsQuery(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	snap, err := h.service.Analytics(r.Context(), middleware.GetOwnerID(r.Context()), q)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ExportAnalytics handles GET /api/v1/campaigns/{id}/analytics/export?format=csv|json
func (h *CampaignHandler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	q, err := h.analyticsQuery(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = analytics.FormatCSV
	}
	if format != analytics.FormatCSV && format != analytics.FormatJSON {
		writeError(w, http.StatusBadRequest, "format must be csv or json")
		return
	}

	snap, err := h.service.Analytics(r.Context(), middleware.GetOwnerID(r.Context()), q)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", analytics.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="campaign-`+q.CampaignID+`.`+format+`"`)
	if err := analytics.Export(w, snap, format); err != nil {
		h.logger.Error("failed to write analytics export", zap.String("campaign_id", q.CampaignID), zap.Error(err))
	}
}

// credentialView is a stored credential without its sealed secrets.
type credentialView struct {
	ID          string        `json:"id"`
	Channel     model.Channel `json:"channel"`
	DailyLimit  int           `json:"daily_limit"`
	RateLimit   int           `json:"rate_limit"`
	IsActive    bool          `json:"is_active"`
	ValidatedAt *time.Time    `json:"validated_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// StoreCredential handles PUT /api/v1/credentials/{channel}
func (h *CampaignHandler) StoreCredential(w http.ResponseWriter, r *http.Request) {
	var req model.StoreCredentialRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	c, err := h.service.StoreCredential(r.Context(), middleware.GetOwnerID(r.Context()),
		model.Channel(chi.URLParam(r, "channel")), &req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialView{
		ID:          c.ID,
		Channel:     c.Channel,
		DailyLimit:  c.DailyLimit,
		RateLimit:   c.RateLimit,
		IsActive:    c.IsActive,
		ValidatedAt: c.ValidatedAt,
		LastError:   c.LastError,
	})
}

// ValidateCredential handles POST /api/v1/credentials/{channel}/validate
func (h *CampaignHandler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	channel := model.Channel(chi.URLParam(r, "channel"))
	if err := h.service.ValidateCredential(r.Context(), middleware.GetOwnerID(r.Context()), channel); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channel": channel, "valid": true})
}
