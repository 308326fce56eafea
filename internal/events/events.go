// Package events defines how lifecycle events leave the engine.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Publisher delivers lifecycle events to downstream consumers. Publishing
// is best effort: callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, e *model.Event) error
}

// New builds an event with a fresh id and timestamp.
func New(t model.EventType, campaignID, targetID, entityID string) *model.Event {
	return &model.Event{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       t,
		CampaignID: campaignID,
		TargetID:   targetID,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *model.Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*model.Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns the recorded events, optionally only those of the given
// types.
func (r *Recorder) Events(types ...model.EventType) []*model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(types) == 0 {
		return append([]*model.Event(nil), r.events...)
	}
	var out []*model.Event
	for _, e := range r.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
