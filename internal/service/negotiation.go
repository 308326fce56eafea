package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/events"
	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/internal/negotiation"
)

// StartNegotiation opens a negotiation on one of the campaign's
// conversations.
func (s *ConversationService) StartNegotiation(ctx context.Context, ownerID, campaignID string, req *model.StartNegotiationRequest) (*model.Negotiation, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	campaign, err := s.ownedCampaign(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.CampaignID != campaign.ID {
		return nil, apperr.NotFound("conversation", req.ConversationID)
	}

	unlock := s.locks.Lock(conv.TargetID)
	n, err := s.negotiator.Start(ctx, campaign, conv, req.OpeningOffer)
	unlock()
	if err != nil {
		return nil, err
	}

	e := events.New(model.EventNegotiation, campaign.ID, n.TargetID, n.ID)
	e.To = string(n.State)
	s.publish(ctx, campaign, e)
	return n, nil
}

// GetNegotiation retrieves a negotiation by ID.
func (s *ConversationService) GetNegotiation(ctx context.Context, ownerID, negotiationID string) (*model.Negotiation, error) {
	n, err := s.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedCampaign(ctx, ownerID, n.CampaignID); err != nil {
		return nil, apperr.NotFound("negotiation", negotiationID)
	}
	return n, nil
}

// NegotiationReply records the counterpart's reply and our planned answer.
// Closed negotiations reject further replies.
func (s *ConversationService) NegotiationReply(ctx context.Context, ownerID, negotiationID string, req *model.NegotiationReplyRequest) (*model.Negotiation, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	n, err := s.GetNegotiation(ctx, ownerID, negotiationID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.store.GetCampaign(ctx, n.CampaignID)
	if err != nil {
		return nil, err
	}
	return s.applyNegotiation(ctx, campaign, n, req.Text, req.Offer)
}

// applyNegotiation evaluates a reply without holding the target's lock and
// commits the evaluation under it, onto the latest stored state.
func (s *ConversationService) applyNegotiation(ctx context.Context, campaign *model.Campaign, n *model.Negotiation, text string, offer *model.Offer) (*model.Negotiation, error) {
	ev, err := s.negotiator.Evaluate(ctx, campaign, n, text, offer)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(n.TargetID)
	updated, from, err := s.commitNegotiation(ctx, n.ID, ev)
	unlock()
	if err != nil {
		return nil, err
	}
	n = updated

	if from != n.State {
		e := events.New(model.EventNegotiation, campaign.ID, n.TargetID, n.ID)
		e.From, e.To = string(from), string(n.State)
		e.Metadata = map[string]any{
			"stance":     string(n.LastStance),
			"likelihood": n.LikelihoodToClose,
		}
		s.publish(ctx, campaign, e)
	}

	s.logger.Info("negotiation updated",
		zap.String("negotiation_id", n.ID),
		zap.String("state", string(n.State)),
		zap.String("stance", string(n.LastStance)),
		zap.Float64("likelihood", n.LikelihoodToClose),
		zap.Bool("fallback", ev.Fallback),
	)
	return n, nil
}

func (s *ConversationService) commitNegotiation(ctx context.Context, id string, ev *negotiation.Evaluation) (*model.Negotiation, model.NegotiationState, error) {
	n, err := s.store.GetNegotiation(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := n.State
	if err := negotiation.Apply(n, ev, s.now()); err != nil {
		return nil, from, err
	}
	if err := s.store.UpdateNegotiation(ctx, n); err != nil {
		return nil, from, err
	}
	return n, from, nil
}
