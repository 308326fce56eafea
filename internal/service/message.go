package service

import (
	"context"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/dispatch"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/store"
)

// SendMessage enqueues one outbound message, sending it right away when
// asked to. Otherwise the dispatch worker picks it up.
func (s *CampaignService) SendMessage(ctx context.Context, ownerID, campaignID string, req *model.SendMessageRequest) (*model.Message, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	t, err := s.campaignTarget(ctx, c, req.TargetID)
	if err != nil {
		return nil, err
	}

	dr := dispatch.Request{
		Campaign:    c,
		Target:      t,
		Channel:     req.Channel,
		Content:     req.Content,
		Template:    req.Template,
		Subject:     req.Subject,
		MediaURLs:   req.MediaURLs,
		ScheduledAt: req.ScheduledAt,
	}
	if req.Immediate {
		return s.dispatcher.Dispatch(ctx, dr)
	}
	return s.dispatcher.Enqueue(ctx, dr)
}

// SendBulk dispatches one template to many targets. Per-target failures are
// reported in the result and never abort the batch.
func (s *CampaignService) SendBulk(ctx context.Context, ownerID, campaignID string, req *model.BulkSendRequest) (*model.BatchResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.SendBulk(ctx, dispatch.BulkRequest{
		Campaign:  c,
		TargetIDs: req.TargetIDs,
		Channel:   req.Channel,
		Template:  req.Template,
		Subject:   req.Subject,
	}), nil
}

// MessageQuery filters a campaign's messages.
type MessageQuery struct {
	TargetID string
	Channel  model.Channel
	Status   model.MessageStatus
}

// ListMessages lists a campaign's messages in creation order.
func (s *CampaignService) ListMessages(ctx context.Context, ownerID, campaignID string, q MessageQuery) ([]*model.Message, error) {
	if _, err := s.Get(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, store.MessageFilter{
		CampaignID: campaignID,
		TargetID:   q.TargetID,
		Channel:    q.Channel,
		Status:     q.Status,
	})
}

func (s *CampaignService) campaignTarget(ctx context.Context, c *model.Campaign, targetID string) (*model.Target, error) {
	t, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if t.CampaignID != c.ID {
		return nil, apperr.NotFound("target", targetID)
	}
	return t, nil
}
