// Package channel defines the per-channel transport capability and the
// registry mapping each channel variant to its implementation.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Outbound is one message ready to leave through a transport.
type Outbound struct {
	Recipient string
	Subject   string
	Content   string
	MediaURLs []string
}

// Receipt is a transport's acknowledgement of a send.
type Receipt struct {
	ProviderMessageID string
}

// Transport is the capability set every channel implements. Send returns
// an apperr.ErrTransientDelivery error for failures worth retrying; any
// other error is terminal.
type Transport interface {
	Send(ctx context.Context, creds model.Credentials, out Outbound) (*Receipt, error)
	ValidateCredentials(ctx context.Context, creds model.Credentials) error
	GetProfile(ctx context.Context, creds model.Credentials, handle string) (*model.Profile, error)
}

// Registry maps channel variants to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[model.Channel]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[model.Channel]Transport)}
}

// Register installs the transport for c.
func (r *Registry) Register(c model.Channel, t Transport) error {
	if !c.Valid() {
		return fmt.Errorf("unknown channel %q", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[c] = t
	return nil
}

// Get returns the transport for c.
func (r *Registry) Get(c model.Channel) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[c]
	if !ok {
		return nil, fmt.Errorf("no transport registered for channel %q", c)
	}
	return t, nil
}
