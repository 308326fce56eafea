package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// BulkRequest sends the same template to many targets of one campaign.
type BulkRequest struct {
	Campaign  *model.Campaign
	TargetIDs []string
	Channel   model.Channel
	Template  string
	Subject   string
}

// SendBulk dispatches to every target concurrently. One target's failure
// never stops the others; every target appears in exactly one half of the
// result, in request order.
func (d *Dispatcher) SendBulk(ctx context.Context, req BulkRequest) *model.BatchResult {
	items := make([]model.BatchItem, len(req.TargetIDs))
	failed := make([]bool, len(req.TargetIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.BulkConcurrency)

	for i, id := range req.TargetIDs {
		i, id := i, id
		g.Go(func() error {
			items[i].TargetID = id

			m, err := d.dispatchTarget(gctx, req, id)
			if m != nil {
				items[i].MessageID = m.ID
				items[i].Status = m.Status
			}
			if err != nil {
				items[i].Error = err.Error()
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &model.BatchResult{
		Succeeded: []model.BatchItem{},
		Failed:    []model.BatchItem{},
	}
	for i, item := range items {
		if failed[i] {
			result.Failed = append(result.Failed, item)
		} else {
			result.Succeeded = append(result.Succeeded, item)
		}
	}
	return result
}

func (d *Dispatcher) dispatchTarget(ctx context.Context, req BulkRequest, targetID string) (*model.Message, error) {
	target, err := d.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.CampaignID != req.Campaign.ID {
		return nil, errTargetNotInCampaign
	}
	return d.Dispatch(ctx, Request{
		Campaign: req.Campaign,
		Target:   target,
		Channel:  req.Channel,
		Template: req.Template,
		Subject:  req.Subject,
	})
}
