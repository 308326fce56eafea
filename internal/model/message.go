package model

import (
	"time"
)

// Direction tells whether a message was sent or received.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MessageStatus is the delivery lifecycle status of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusReplied   MessageStatus = "replied"
	StatusFailed    MessageStatus = "failed"
	StatusBounced   MessageStatus = "bounced"
)

// Message is a directional communication unit. Content is immutable once
// created; only status, timestamps and error bookkeeping change.
type Message struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	CampaignID     string        `json:"campaign_id"`
	TargetID       string        `json:"target_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Direction      Direction     `json:"direction"`
	Channel        Channel       `json:"channel"`
	Status         MessageStatus `json:"status"`

	Subject   string   `json:"subject,omitempty"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls,omitempty"`
	// Source records what produced the content: template, rule, generated or fallback.
	Source string `json:"source,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	RepliedAt   *time.Time `json:"replied_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	// ReceivedAt is the provider timestamp of an inbound message.
	ReceivedAt *time.Time `json:"received_at,omitempty"`

	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ProviderEventID   string `json:"provider_event_id,omitempty"`
	Attempts          int    `json:"attempts"`
	LastError         string `json:"last_error,omitempty"`

	Analysis *Analysis `json:"analysis,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is maintained by the store for optimistic concurrency.
	Version int64 `json:"version"`
}

// Timestamp returns the moment the message entered the conversation.
func (m *Message) Timestamp() time.Time {
	switch {
	case m.ReceivedAt != nil:
		return *m.ReceivedAt
	case m.SentAt != nil:
		return *m.SentAt
	default:
		return m.CreatedAt
	}
}

// ResponseType is the coarse classification of an inbound reply.
type ResponseType string

const (
	ResponsePositive        ResponseType = "positive"
	ResponseNegative        ResponseType = "negative"
	ResponseNeutral         ResponseType = "neutral"
	ResponseQuestion        ResponseType = "question"
	ResponseObjection       ResponseType = "objection"
	ResponseRequestInfo     ResponseType = "request_info"
	ResponseScheduleMeeting ResponseType = "schedule_meeting"
	ResponseUnsubscribe     ResponseType = "unsubscribe"
)

// Intent tags attached by the analyzer.
const (
	IntentOptOut         = "opt_out"
	IntentMeetingRequest = "meeting_request"
	IntentPricingInquiry = "pricing_inquiry"
	IntentObjection      = "objection"
	IntentQuestion       = "question"
	IntentGeneral        = "general"
)

// SentimentLabel buckets a sentiment score.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Analysis is the analyzer's verdict on one inbound reply.
type Analysis struct {
	SentimentScore float64             `json:"sentiment_score"`
	Sentiment      SentimentLabel      `json:"sentiment"`
	ResponseType   ResponseType        `json:"response_type"`
	Intent         string              `json:"intent"`
	Entities       map[string][]string `json:"entities,omitempty"`
	Keywords       []string            `json:"keywords,omitempty"`
	// Fallback is set when the configured classifier was unavailable.
	Fallback bool `json:"fallback,omitempty"`
}

// BatchItem is one target's outcome within a bulk operation.
type BatchItem struct {
	TargetID  string        `json:"target_id"`
	MessageID string        `json:"message_id,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// BatchResult collects per-target outcomes of a bulk operation.
type BatchResult struct {
	Succeeded []BatchItem `json:"succeeded"`
	Failed    []BatchItem `json:"failed"`
}
