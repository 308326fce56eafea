package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
)

// Discoverer finds candidate targets for a campaign. Search and scraping
// live outside the engine.
type Discoverer interface {
	Discover(ctx context.Context, campaignID string, criteria map[string]string, limit int) ([]model.TargetDraft, error)
}

// DiscoverTargets asks the discoverer for new targets and stores the ones
// reachable on at least one of the campaign's channels.
func (s *CampaignService) DiscoverTargets(ctx context.Context, ownerID, campaignID string, req *model.DiscoverRequest) ([]*model.Target, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if s.discoverer == nil {
		return nil, apperr.Validation("target discovery is not configured")
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}

	criteria := make(map[string]string, len(c.Targeting.Criteria)+len(req.Criteria))
	for k, v := range c.Targeting.Criteria {
		criteria[k] = v
	}
	for k, v := range req.Criteria {
		criteria[k] = v
	}
	limit := req.Limit
	if limit == 0 {
		limit = c.Targeting.MaxTargets
	}

	drafts, err := s.discoverer.Discover(ctx, c.ID, criteria, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to discover targets: %w", err)
	}
	return s.addTargets(ctx, c, drafts)
}

// AddTargets stores the given drafts as targets of the campaign. Drafts
// without a handle on any of the campaign's channels are skipped.
func (s *CampaignService) AddTargets(ctx context.Context, ownerID, campaignID string, req *model.AddTargetsRequest) ([]*model.Target, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	return s.addTargets(ctx, c, req.Targets)
}

func (s *CampaignService) addTargets(ctx context.Context, c *model.Campaign, drafts []model.TargetDraft) ([]*model.Target, error) {
	now := s.now().UTC()
	out := make([]*model.Target, 0, len(drafts))
	skipped := 0
	for _, d := range drafts {
		channels := make(map[model.Channel]string)
		for ch, handle := range d.Channels {
			if handle != "" && c.HasChannel(ch) {
				channels[ch] = handle
			}
		}
		if len(channels) == 0 {
			skipped++
			continue
		}

		t := &model.Target{
			ID:                uuid.Must(uuid.NewV7()).String(),
			CampaignID:        c.ID,
			Name:              d.Name,
			Company:           d.Company,
			Title:             d.Title,
			Location:          d.Location,
			Timezone:          d.Timezone,
			Channels:          channels,
			ProfileData:       d.ProfileData,
			ConversationStage: model.StageInitialContact,
			LeadScore:         clampScore(d.Score),
			BaselineScore:     clampScore(d.Score),
			Tags:              d.Tags,
			CustomFields:      d.CustomFields,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.CreateTarget(ctx, t); err != nil {
			return out, err
		}
		out = append(out, t)
	}

	s.logger.Info("targets added",
		zap.String("campaign_id", c.ID),
		zap.Int("added", len(out)),
		zap.Int("skipped", skipped),
	)
	return out, nil
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// ListTargets lists a campaign's targets, optionally by stage and channel.
func (s *CampaignService) ListTargets(ctx context.Context, ownerID, campaignID string, stage model.Stage, channel model.Channel) ([]*model.Target, error) {
	if _, err := s.Get(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}
	if channel != "" && !channel.Valid() {
		return nil, apperr.Validation("unknown channel %q", channel)
	}
	return s.store.ListTargets(ctx, store.TargetFilter{CampaignID: campaignID, Stage: stage, Channel: channel})
}
