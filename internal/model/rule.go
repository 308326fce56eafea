package model

import (
	"time"
)

// ActionType is a side effect an auto-response rule can trigger.
type ActionType string

const (
	ActionAddTag           ActionType = "add_tag"
	ActionScheduleFollowUp ActionType = "schedule_followup"
	ActionEscalate         ActionType = "escalate"
	ActionUpdateField      ActionType = "update_field"
	ActionNotifyTeam       ActionType = "notify_team"
)

// RuleAction is one side effect with its parameters.
type RuleAction struct {
	Type   ActionType        `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// AutoResponseRule short-circuits generated replies on a deterministic trigger.
type AutoResponseRule struct {
	ID               string             `json:"id" yaml:"-"`
	CampaignID       string             `json:"campaign_id" yaml:"-"`
	Name             string             `json:"name" yaml:"name"`
	TriggerType      ResponseType       `json:"trigger_type,omitempty" yaml:"trigger_type,omitempty"`
	Keywords         []string           `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Template         string             `json:"template,omitempty" yaml:"template,omitempty"`
	ChannelTemplates map[Channel]string `json:"channel_templates,omitempty" yaml:"channel_templates,omitempty"`
	Actions          []RuleAction       `json:"actions,omitempty" yaml:"actions,omitempty"`
	Priority         int                `json:"priority" yaml:"priority"`
	IsActive         bool               `json:"is_active" yaml:"is_active"`
	CreatedAt        time.Time          `json:"created_at" yaml:"-"`
}

// TemplateFor returns the channel-specific template, falling back to the
// generic one.
func (r *AutoResponseRule) TemplateFor(c Channel) string {
	if t, ok := r.ChannelTemplates[c]; ok && t != "" {
		return t
	}
	return r.Template
}
