package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/outreach-engine/internal/inbox"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

const (
	// StreamName is the name of the outreach stream.
	StreamName = "OUTREACH"

	// SubjectPrefix is the prefix for all outreach subjects.
	SubjectPrefix = "outreach"

	// DedupeWindow is how long JetStream remembers a Nats-Msg-Id. Providers
	// redeliver webhooks for up to a day.
	DedupeWindow = 24 * time.Hour
)

// EnsureStream ensures the outreach stream exists with proper configuration.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  DedupeWindow,
		Description: "Outreach lifecycle events and queued webhook events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for a lifecycle event.
func EventSubject(e *model.Event) string {
	return fmt.Sprintf("%s.events.%s.%s", SubjectPrefix, token(e.CampaignID), e.Type)
}

// CampaignEventsFilter returns the filter subject for every event of a
// campaign.
func CampaignEventsFilter(campaignID string) string {
	return fmt.Sprintf("%s.events.%s.>", SubjectPrefix, token(campaignID))
}

// InboxSubject returns the subject a queued webhook event is published on.
func InboxSubject(kind inbox.Kind, c model.Channel) string {
	return fmt.Sprintf("%s.inbox.%s.%s", SubjectPrefix, kind, token(string(c)))
}

// InboxFilter matches every queued webhook event.
func InboxFilter() string {
	return SubjectPrefix + ".inbox.>"
}

// token keeps subject tokens free of wildcards and separators.
func token(s string) string {
	if s == "" {
		return "_"
	}
	out := []byte(s)
	for i, b := range out {
		switch b {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			out[i] = '_'
		}
	}
	return string(out)
}
