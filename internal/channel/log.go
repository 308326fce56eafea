package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/model"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// LogTransport accepts every send and only logs it. It stands in for real
// providers in development.
type LogTransport struct {
	channel model.Channel
	logger  *logger.Logger
}

// NewLogTransport creates a logging transport for c.
func NewLogTransport(c model.Channel, log *logger.Logger) *LogTransport {
	return &LogTransport{channel: c, logger: log.With(zap.String("channel", string(c)))}
}

// Send implements Transport.
func (t *LogTransport) Send(_ context.Context, _ model.Credentials, out Outbound) (*Receipt, error) {
	id := fmt.Sprintf("%s-%s", t.channel, uuid.New().String())
	t.logger.Info("message sent",
		zap.String("recipient", out.Recipient),
		zap.String("provider_message_id", id),
		zap.Int("content_length", len(out.Content)),
	)
	return &Receipt{ProviderMessageID: id}, nil
}

// ValidateCredentials implements Transport.
func (t *LogTransport) ValidateCredentials(_ context.Context, creds model.Credentials) error {
	for _, key := range model.RequiredCredentialKeys(t.channel) {
		if creds[key] == "" {
			return fmt.Errorf("missing key %s", key)
		}
	}
	return nil
}

// GetProfile implements Transport.
func (t *LogTransport) GetProfile(_ context.Context, _ model.Credentials, handle string) (*model.Profile, error) {
	return &model.Profile{Handle: handle}, nil
}

// RegisterLogTransports installs a LogTransport for every channel.
func RegisterLogTransports(r *Registry, log *logger.Logger) {
	for _, c := range model.AllChannels {
		_ = r.Register(c, NewLogTransport(c, log))
	}
}
