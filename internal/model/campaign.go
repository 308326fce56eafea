package model

import (
	"time"
)

// Goal is the fixed purpose of a campaign.
type Goal string

const (
	GoalSales           Goal = "sales"
	GoalLeadGeneration  Goal = "lead_generation"
	GoalPartnership     Goal = "partnership"
	GoalRecruitment     Goal = "recruitment"
	GoalNetworking      Goal = "networking"
	GoalCustomerSuccess Goal = "customer_success"
	GoalMarketResearch  Goal = "market_research"
	GoalCustom          Goal = "custom"
)

// AllGoals lists every campaign goal.
var AllGoals = []Goal{
	GoalSales, GoalLeadGeneration, GoalPartnership, GoalRecruitment,
	GoalNetworking, GoalCustomerSuccess, GoalMarketResearch, GoalCustom,
}

// Dealmaking reports whether campaigns with this goal may open negotiations.
func (g Goal) Dealmaking() bool {
	switch g {
	case GoalSales, GoalPartnership, GoalRecruitment, GoalCustom:
		return true
	}
	return false
}

// CampaignStatus is the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:  {CampaignActive, CampaignCancelled},
	CampaignActive: {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused: {CampaignActive, CampaignCompleted, CampaignCancelled},
}

// CanTransition reports whether a campaign may move from s to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// Campaign is a user-defined outreach effort.
type Campaign struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Goal            Goal            `json:"goal"`
	Channels        []Channel       `json:"channels"`
	Targeting       Targeting       `json:"targeting"`
	Personalization Personalization `json:"personalization"`
	Scheduling      Scheduling      `json:"scheduling"`
	Agent           *AgentConfig    `json:"agent,omitempty"`
	Budget          *Budget         `json:"budget,omitempty"`
	Status          CampaignStatus  `json:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasChannel reports whether c is enabled for the campaign.
func (c *Campaign) HasChannel(ch Channel) bool {
	for _, enabled := range c.Channels {
		if enabled == ch {
			return true
		}
	}
	return false
}

// Targeting holds the discovery criteria handed to the discoverer.
type Targeting struct {
	Keywords   []string          `json:"keywords,omitempty"`
	Locations  []string          `json:"locations,omitempty"`
	Industries []string          `json:"industries,omitempty"`
	Criteria   map[string]string `json:"criteria,omitempty"`
	MaxTargets int               `json:"max_targets,omitempty"`
}

// Personalization holds the default outreach templates.
type Personalization struct {
	InitialTemplate  string             `json:"initial_template,omitempty"`
	Subject          string             `json:"subject,omitempty"`
	ChannelTemplates map[Channel]string `json:"channel_templates,omitempty"`
	Variables        map[string]string  `json:"variables,omitempty"`
}

// Scheduling holds per-campaign pacing overrides.
type Scheduling struct {
	// MinSendInterval overrides the dispatcher's default gate when positive.
	MinSendInterval time.Duration `json:"min_send_interval,omitempty"`
	// DailyBudget caps outbound sends for the whole campaign when positive.
	DailyBudget int `json:"daily_budget,omitempty"`
}

// Budget is the negotiation envelope for dealmaking campaigns.
type Budget struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
}

// AgentConfig configures the automated reply agent for a campaign.
type AgentConfig struct {
	Name                       string                  `json:"name"`
	Personality                string                  `json:"personality,omitempty"`
	Tone                       string                  `json:"tone,omitempty"`
	Objectives                 []string                `json:"objectives,omitempty"`
	KnowledgeBase              map[string]string       `json:"knowledge_base,omitempty"`
	ResponseTemplates          map[ResponseType]string `json:"response_templates,omitempty"`
	ObjectionHandlers          map[string]string       `json:"objection_handlers,omitempty"`
	EscalationTriggers         []string                `json:"escalation_triggers,omitempty"`
	MaxMessagesPerConversation int                     `json:"max_messages_per_conversation,omitempty"`
	ResponseTimeMin            time.Duration           `json:"response_time_min,omitempty"`
	ResponseTimeMax            time.Duration           `json:"response_time_max,omitempty"`
	IsActive                   bool                    `json:"is_active"`
}

// Defaults used when an agent config leaves a knob unset.
const (
	DefaultMaxMessagesPerConversation = 10
	DefaultResponseTimeMin            = 300 * time.Second
	DefaultResponseTimeMax            = 1800 * time.Second
)

// MaxMessages returns the effective per-conversation message cap.
func (a *AgentConfig) MaxMessages() int {
	if a == nil || a.MaxMessagesPerConversation <= 0 {
		return DefaultMaxMessagesPerConversation
	}
	return a.MaxMessagesPerConversation
}

// ResponseWindow returns the effective reply delay range.
func (a *AgentConfig) ResponseWindow() (time.Duration, time.Duration) {
	lo, hi := DefaultResponseTimeMin, DefaultResponseTimeMax
	if a != nil && a.ResponseTimeMin > 0 {
		lo = a.ResponseTimeMin
	}
	if a != nil && a.ResponseTimeMax > 0 {
		hi = a.ResponseTimeMax
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
