package model

import (
	"time"
)

// EventType represents the type of lifecycle event.
type EventType string

const (
	EventCampaignStatus   EventType = "campaign_status"
	EventMessageStatus    EventType = "message_status"
	EventStageChanged     EventType = "stage_changed"
	EventScoreUpdated     EventType = "score_updated"
	EventNegotiation      EventType = "negotiation"
	EventInboundProcessed EventType = "inbound_processed"
	EventEscalated        EventType = "escalated"
	EventTeamNotification EventType = "team_notification"
)

// Event is a lifecycle event published for downstream consumers.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OwnerID    string         `json:"owner_id,omitempty"`
	CampaignID string         `json:"campaign_id"`
	TargetID   string         `json:"target_id,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// InboundEvent is a reply received at the webhook boundary.
type InboundEvent struct {
	// EventID is the provider's event id, used for deduplication.
	EventID      string    `json:"event_id,omitempty"`
	Channel      Channel   `json:"channel"`
	SenderHandle string    `json:"sender_handle"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveryEvent is a provider status callback for an outbound message.
type DeliveryEvent struct {
	EventID           string    `json:"event_id,omitempty"`
	Channel           Channel   `json:"channel"`
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
