package model

import (
	"time"
)

// ChannelStats holds funnel counts and rates for one channel.
type ChannelStats struct {
	Sent      int     `json:"sent"`
	Delivered int     `json:"delivered"`
	Opened    int     `json:"opened"`
	Replied   int     `json:"replied"`
	Failed    int     `json:"failed"`
	Bounced   int     `json:"bounced"`
	Positive  int     `json:"positive"`
	Delivery  float64 `json:"delivery_rate"`
	Open      float64 `json:"open_rate"`
	Response  float64 `json:"response_rate"`
	// PositiveRate is positive replies over all replies.
	PositiveRate float64 `json:"positive_rate"`
}

// TopMessage is an extract of a well-performing outbound message.
type TopMessage struct {
	Channel      Channel `json:"channel"`
	Content      string  `json:"content"`
	Sent         int     `json:"sent"`
	Replied      int     `json:"replied"`
	ResponseRate float64 `json:"response_rate"`
}

// DailyPoint is one day of the rolling time series.
type DailyPoint struct {
	Date      string `json:"date"`
	Sent      int    `json:"sent"`
	Delivered int    `json:"delivered"`
	Opened    int    `json:"opened"`
	Replied   int    `json:"replied"`
}

// AnalyticsSnapshot is the per-campaign rollup of funnel metrics.
type AnalyticsSnapshot struct {
	CampaignID   string `json:"campaign_id"`
	TotalTargets int    `json:"total_targets"`
	Contacted    int    `json:"contacted"`
	Converted    int    `json:"converted"`

	TotalSent      int `json:"total_sent"`
	TotalDelivered int `json:"total_delivered"`
	TotalOpened    int `json:"total_opened"`
	TotalReplied   int `json:"total_replied"`

	DeliveryRate   float64 `json:"delivery_rate"`
	OpenRate       float64 `json:"open_rate"`
	ResponseRate   float64 `json:"response_rate"`
	ConversionRate float64 `json:"conversion_rate"`

	AvgMessagesToConversion float64                  `json:"avg_messages_to_conversion"`
	ByChannel               map[Channel]ChannelStats `json:"by_channel"`
	SentimentDistribution   map[SentimentLabel]int   `json:"sentiment_distribution"`
	StageDistribution       map[Stage]int            `json:"stage_distribution"`
	TopMessages             []TopMessage             `json:"top_messages"`
	TimeSeries              []DailyPoint             `json:"time_series"`

	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
}

// NewAnalyticsSnapshot returns the empty snapshot created with a campaign.
func NewAnalyticsSnapshot(campaignID string, now time.Time) *AnalyticsSnapshot {
	return &AnalyticsSnapshot{
		CampaignID:            campaignID,
		ByChannel:             map[Channel]ChannelStats{},
		SentimentDistribution: map[SentimentLabel]int{},
		StageDistribution:     map[Stage]int{},
		TopMessages:           []TopMessage{},
		TimeSeries:            []DailyPoint{},
		LastUpdated:           now,
	}
}
