// Package service provides the business operations of the outreach engine.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/analytics"
	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/rules"
	"github.com/capitalize-ai/outreach-engine/internal/store"
	"github.com/capitalize-ai/outreach-engine/internal/vault"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// CampaignService handles campaign, target, rule and credential operations.
// Every operation is scoped to the owner passed in; campaigns of other
// owners look like they do not exist.
type CampaignService struct {
	store      *store.Store
	vault      *vault.Vault
	dispatcher *dispatch.Dispatcher
	analytics  *analytics.Aggregator
	rules      *rules.Pack
	discoverer Discoverer
	publisher  events.Publisher
	logger     *logger.Logger
	now        func() time.Time
}

// CampaignDeps are the collaborators of a CampaignService.
type CampaignDeps struct {
	Store      *store.Store
	Vault      *vault.Vault
	Dispatcher *dispatch.Dispatcher
	Analytics  *analytics.Aggregator
	// Rules are seeded into every new campaign. May be nil.
	Rules *rules.Pack
	// Discoverer finds new targets. May be nil, which disables discovery.
	Discoverer Discoverer
	Publisher  events.Publisher
	Logger     *logger.Logger
}

// NewCampaignService creates a new campaign service.
func NewCampaignService(deps CampaignDeps) *CampaignService {
	pack := deps.Rules
	if pack == nil {
		pack = &rules.Pack{}
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &CampaignService{
		store:      deps.Store,
		vault:      deps.Vault,
		dispatcher: deps.Dispatcher,
		analytics:  deps.Analytics,
		rules:      pack,
		discoverer: deps.Discoverer,
		publisher:  pub,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Create creates a draft campaign. Every enabled channel must have valid
// credentials for the owner; the error names each one that does not.
func (s *CampaignService) Create(ctx context.Context, ownerID string, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := s.vault.ValidateAll(ctx, ownerID, req.Channels); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &model.Campaign{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OwnerID:         ownerID,
		Name:            req.Name,
		Description:     req.Description,
		Goal:            req.Goal,
		Channels:        req.Channels,
		Targeting:       req.Targeting,
		Personalization: req.Personalization,
		Scheduling:      req.Scheduling,
		Agent:           req.Agent,
		Budget:          req.Budget,
		Status:          model.CampaignDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.SaveSnapshot(ctx, model.NewAnalyticsSnapshot(c.ID, now)); err != nil {
		return nil, fmt.Errorf("failed to create analytics snapshot: %w", err)
	}
	for _, r := range s.rules.Seed(c.ID, now) {
		if err := s.store.CreateRule(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to seed rule %q: %w", r.Name, err)
		}
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("owner_id", ownerID),
		zap.String("goal", string(c.Goal)),
	)
	return c, nil
}

// Get retrieves a campaign by ID.
func (s *CampaignService) Get(ctx context.Context, ownerID, campaignID string) (*model.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, apperr.NotFound("campaign", campaignID)
	}
	return c, nil
}

// List retrieves the owner's campaigns.
func (s *CampaignService) List(ctx context.Context, ownerID string) ([]*model.Campaign, error) {
	return s.store.ListCampaigns(ctx, ownerID)
}

// UpdateStatus moves a campaign through its lifecycle. Leaving active
// purges queued messages that are not being sent right now.
func (s *CampaignService) UpdateStatus(ctx context.Context, ownerID, campaignID string, req *model.UpdateStatusRequest) (*model.Campaign, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == req.Status {
		return c, nil
	}
	if !c.Status.CanTransition(req.Status) {
		return nil, apperr.Validation("campaign cannot move from %s to %s", c.Status, req.Status)
	}

	now := s.now().UTC()
	from := c.Status
	c.Status = req.Status
	c.UpdatedAt = now
	switch req.Status {
	case model.CampaignActive:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case model.CampaignCompleted, model.CampaignCancelled:
		c.EndedAt = &now
	}
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return nil, err
	}

	if from == model.CampaignActive {
		if _, err := s.dispatcher.PurgeCampaign(ctx, c.ID, "campaign "+string(c.Status)); err != nil {
			s.logger.Error("failed to purge queued messages",
				zap.String("campaign_id", c.ID),
				zap.Error(err),
			)
		}
	}

	e := events.New(model.EventCampaignStatus, c.ID, "", c.ID)
	e.OwnerID = ownerID
	e.From, e.To = string(from), string(c.Status)
	s.publish(ctx, e)

	s.logger.Info("campaign status updated",
		zap.String("campaign_id", c.ID),
		zap.String("from", string(from)),
		zap.String("to", string(c.Status)),
	)
	return c, nil
}

// Delete removes a campaign and everything it owns.
func (s *CampaignService) Delete(ctx context.Context, ownerID, campaignID string) error {
	if _, err := s.Get(ctx, ownerID, campaignID); err != nil {
		return err
	}
	if _, err := s.dispatcher.PurgeCampaign(ctx, campaignID, "campaign deleted"); err != nil {
		return err
	}
	if err := s.store.DeleteCampaign(ctx, campaignID); err != nil {
		return err
	}
	s.logger.Info("campaign deleted", zap.String("campaign_id", campaignID))
	return nil
}

// ConfigureAgent replaces the campaign's reply agent.
func (s *CampaignService) ConfigureAgent(ctx context.Context, ownerID, campaignID string, agent *model.AgentConfig) (*model.Campaign, error) {
	if agent == nil {
		return nil, apperr.Validation("agent config is required")
	}
	if err := validate(agent); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	c.Agent = agent
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateRule adds an auto-response rule to a campaign.
func (s *CampaignService) CreateRule(ctx context.Context, ownerID, campaignID string, req *model.CreateRuleRequest) (*model.AutoResponseRule, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}
	r := req.AutoResponseRule
	r.ID = uuid.Must(uuid.NewV7()).String()
	r.CampaignID = campaignID
	r.CreatedAt = s.now().UTC()
	if err := s.store.CreateRule(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns a campaign's rules in evaluation order.
func (s *CampaignService) ListRules(ctx context.Context, ownerID, campaignID string) ([]*model.AutoResponseRule, error) {
	if _, err := s.Get(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, campaignID)
}

// Analytics returns the campaign's funnel metrics.
func (s *CampaignService) Analytics(ctx context.Context, ownerID string, q analytics.Query) (*model.AnalyticsSnapshot, error) {
	if _, err := s.Get(ctx, ownerID, q.CampaignID); err != nil {
		return nil, err
	}
	return s.analytics.Get(ctx, q)
}

// StoreCredential encrypts and stores the owner's credentials for a channel.
func (s *CampaignService) StoreCredential(ctx context.Context, ownerID string, c model.Channel, req *model.StoreCredentialRequest) (*model.ChannelCredential, error) {
	if !c.Valid() {
		return nil, apperr.Validation("unknown channel %q", c)
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	return s.vault.Store(ctx, ownerID, c, req.Credentials, req.DailyLimit, req.RateLimit)
}

// ValidateCredential checks the owner's stored credentials for a channel.
func (s *CampaignService) ValidateCredential(ctx context.Context, ownerID string, c model.Channel) error {
	if !c.Valid() {
		return apperr.Validation("unknown channel %q", c)
	}
	return s.vault.Validate(ctx, ownerID, c)
}

func (s *CampaignService) publish(ctx context.Context, e *model.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("campaign_id", e.CampaignID),
			zap.Error(err),
		)
	}
}
