package model

import (
	"time"
)

// Conversation is a channel-scoped thread with one target.
type Conversation struct {
	ID         string  `json:"id"`
	CampaignID string  `json:"campaign_id"`
	TargetID   string  `json:"target_id"`
	Channel    Channel `json:"channel"`
	Stage      Stage   `json:"stage"`
	IsActive   bool    `json:"is_active"`
	// AgentBound is cleared on escalation so a human takes over.
	AgentBound bool `json:"agent_bound"`

	MessageCount  int        `json:"message_count"`
	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}
