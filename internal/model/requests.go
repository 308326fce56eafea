package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var errUnknownChannel = errors.New("unknown channel")

var channelRule = validation.By(func(value interface{}) error {
	c, _ := value.(Channel)
	if !c.Valid() {
		return errUnknownChannel
	}
	return nil
})

func goalValues() []interface{} {
	out := make([]interface{}, len(AllGoals))
	for i, g := range AllGoals {
		out[i] = g
	}
	return out
}

// CreateCampaignRequest is the request to create a campaign.
type CreateCampaignRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Goal            Goal            `json:"goal"`
	Channels        []Channel       `json:"channels"`
	Targeting       Targeting       `json:"targeting"`
	Personalization Personalization `json:"personalization"`
	Scheduling      Scheduling      `json:"scheduling"`
	Agent           *AgentConfig    `json:"agent,omitempty"`
	Budget          *Budget         `json:"budget,omitempty"`
}

// Validate implements validation.Validatable.
func (r CreateCampaignRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Description, validation.Length(0, 2000)),
		validation.Field(&r.Goal, validation.Required, validation.In(goalValues()...)),
		validation.Field(&r.Channels, validation.Required, validation.Each(channelRule)),
		validation.Field(&r.Budget),
		validation.Field(&r.Agent),
	)
}

// Validate implements validation.Validatable.
func (b Budget) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Min, validation.Min(0.0)),
		validation.Field(&b.Max, validation.Min(b.Min)),
		validation.Field(&b.Currency, validation.Length(3, 3)),
	)
}

// UpdateStatusRequest is the request to move a campaign to a new status.
type UpdateStatusRequest struct {
	Status CampaignStatus `json:"status"`
}

// Validate implements validation.Validatable.
func (r UpdateStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required, validation.In(
			CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted, CampaignCancelled,
		)),
	)
}

// AddTargetsRequest carries target drafts to attach to a campaign.
type AddTargetsRequest struct {
	Targets []TargetDraft `json:"targets"`
}

// Validate implements validation.Validatable.
func (r AddTargetsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Targets, validation.Required, validation.Length(1, 1000)),
	)
}

// Validate implements validation.Validatable.
func (d TargetDraft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&d.Channels, validation.Required),
	)
}

// DiscoverRequest asks the discoverer for new targets.
type DiscoverRequest struct {
	Criteria map[string]string `json:"criteria,omitempty"`
	Limit    int               `json:"limit"`
}

// Validate implements validation.Validatable.
func (r DiscoverRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Limit, validation.Min(0), validation.Max(500)),
	)
}

// SendMessageRequest enqueues one outbound message.
type SendMessageRequest struct {
	TargetID    string     `json:"target_id"`
	Channel     Channel    `json:"channel"`
	Template    string     `json:"template,omitempty"`
	Content     string     `json:"content,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	MediaURLs   []string   `json:"media_urls,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	// Immediate sends right away instead of leaving the message to the worker.
	Immediate bool `json:"immediate"`
}

// Validate implements validation.Validatable.
func (r SendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TargetID, validation.Required),
		validation.Field(&r.Channel, validation.Required, channelRule),
		validation.Field(&r.Template, validation.Required.When(r.Content == "").Error("template or content is required")),
		validation.Field(&r.Content, validation.Length(0, 100000)),
	)
}

// BulkSendRequest dispatches one template to many targets.
type BulkSendRequest struct {
	TargetIDs []string `json:"target_ids"`
	Channel   Channel  `json:"channel"`
	Template  string   `json:"template"`
	Subject   string   `json:"subject,omitempty"`
}

// Validate implements validation.Validatable.
func (r BulkSendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TargetIDs, validation.Required, validation.Length(1, 5000)),
		validation.Field(&r.Channel, validation.Required, channelRule),
		validation.Field(&r.Template, validation.Required),
	)
}

// CreateRuleRequest creates an auto-response rule.
type CreateRuleRequest struct {
	AutoResponseRule
}

// Validate implements validation.Validatable.
func (r CreateRuleRequest) Validate() error {
	return validation.ValidateStruct(&r.AutoResponseRule,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Keywords, validation.Required.When(r.TriggerType == "").Error("trigger type or keywords are required")),
		validation.Field(&r.Actions, validation.Each(validation.By(func(value interface{}) error {
			a, _ := value.(RuleAction)
			switch a.Type {
			case ActionAddTag, ActionScheduleFollowUp, ActionEscalate, ActionUpdateField, ActionNotifyTeam:
				return nil
			}
			return errors.New("unknown action type")
		}))),
	)
}

// StartNegotiationRequest opens a negotiation on a conversation.
type StartNegotiationRequest struct {
	ConversationID string `json:"conversation_id"`
	OpeningOffer   *Offer `json:"opening_offer,omitempty"`
}

// Validate implements validation.Validatable.
func (r StartNegotiationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ConversationID, validation.Required),
	)
}

// NegotiationReplyRequest is a counterpart reply inside a negotiation.
type NegotiationReplyRequest struct {
	Text  string `json:"text"`
	Offer *Offer `json:"offer,omitempty"`
}

// Validate implements validation.Validatable.
func (r NegotiationReplyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.Length(1, 20000)),
	)
}

// StoreCredentialRequest stores channel credentials for the caller.
type StoreCredentialRequest struct {
	Credentials Credentials `json:"credentials"`
	DailyLimit  int         `json:"daily_limit"`
	RateLimit   int         `json:"rate_limit"`
}

// Validate implements validation.Validatable.
func (r StoreCredentialRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Credentials, validation.Required),
		validation.Field(&r.DailyLimit, validation.Min(0)),
		validation.Field(&r.RateLimit, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (a AgentConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Length(0, 100)),
		validation.Field(&a.MaxMessagesPerConversation, validation.Min(0), validation.Max(100)),
		validation.Field(&a.ResponseTimeMin, validation.Min(time.Duration(0))),
		validation.Field(&a.ResponseTimeMax, validation.When(a.ResponseTimeMax > 0, validation.Min(a.ResponseTimeMin))),
	)
}
