package model

import (
	"strings"
	"time"
)

// Stage is a conversation's position in the outreach lifecycle.
type Stage string

const (
	StageInitialContact Stage = "initial_contact"
	StageQualification  Stage = "qualification"
	StageDiscovery      Stage = "discovery"
	StageProposal       Stage = "proposal"
	StageNegotiation    Stage = "negotiation"
	StageClosing        Stage = "closing"
	StageFollowUp       Stage = "follow_up"
)

// Target is an external party being contacted within a campaign.
type Target struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`

	// Identity
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Channels    map[Channel]string `json:"channels"`
	ProfileData map[string]string  `json:"profile_data,omitempty"`

	ConversationStage Stage   `json:"conversation_stage"`
	LeadScore         float64 `json:"lead_score"`
	BaselineScore     float64 `json:"baseline_score"`

	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	DoNotContact bool              `json:"do_not_contact"`

	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	NextFollowUpAt  *time.Time `json:"next_follow_up_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Version is maintained by the store for optimistic concurrency.
	Version int64 `json:"version"`
}

// FirstName returns the first word of the target's name.
func (t *Target) FirstName() string {
	if fields := strings.Fields(t.Name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// Handle returns the target's contact handle on a channel.
func (t *Target) Handle(c Channel) (string, bool) {
	h, ok := t.Channels[c]
	return h, ok && h != ""
}

// HasTag reports whether the target carries tag.
func (t *Target) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// AddTag adds tag once.
func (t *Target) AddTag(tag string) {
	if tag == "" || t.HasTag(tag) {
		return
	}
	t.Tags = append(t.Tags, tag)
}

// TargetDraft is a discovered target before it is persisted.
type TargetDraft struct {
	Name         string             `json:"name"`
	Company      string             `json:"company,omitempty"`
	Title        string             `json:"title,omitempty"`
	Location     string             `json:"location,omitempty"`
	Timezone     string             `json:"timezone,omitempty"`
	Channels     map[Channel]string `json:"channels"`
	ProfileData  map[string]string  `json:"profile_data,omitempty"`
	CustomFields map[string]string  `json:"custom_fields,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Score        float64            `json:"score,omitempty"`
}
