// Package channeltest provides a scriptable Transport for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/capitalize-ai/outreach-engine/internal/channel"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Transport records sends and fails recipients on demand.
type Transport struct {
	mu       sync.Mutex
	sent     []channel.Outbound
	failures map[string]error
	attempts map[string]int
	// failTimes caps how many times a scripted failure fires.
	failTimes map[string]int
	invalid   error
}

// New creates a transport that accepts everything.
func New() *Transport {
	return &Transport{
		failures:  make(map[string]error),
		attempts:  make(map[string]int),
		failTimes: make(map[string]int),
	}
}

// FailFor makes every send to recipient return err.
func (t *Transport) FailFor(recipient string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[recipient] = err
	delete(t.failTimes, recipient)
}

// FailTimesFor makes the first n sends to recipient return err.
func (t *Transport) FailTimesFor(recipient string, n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[recipient] = err
	t.failTimes[recipient] = n
}

// RejectCredentials makes ValidateCredentials return err.
func (t *Transport) RejectCredentials(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalid = err
}

// Send implements channel.Transport.
func (t *Transport) Send(ctx context.Context, _ model.Credentials, out channel.Outbound) (*channel.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[out.Recipient]++
	if err, ok := t.failures[out.Recipient]; ok {
		limit, limited := t.failTimes[out.Recipient]
		if !limited || t.attempts[out.Recipient] <= limit {
			return nil, err
		}
	}
	t.sent = append(t.sent, out)
	return &channel.Receipt{ProviderMessageID: fmt.Sprintf("prov-%d", len(t.sent))}, nil
}

// ValidateCredentials implements channel.Transport.
func (t *Transport) ValidateCredentials(context.Context, model.Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalid
}

// GetProfile implements channel.Transport.
func (t *Transport) GetProfile(_ context.Context, _ model.Credentials, handle string) (*model.Profile, error) {
	return &model.Profile{Handle: handle}, nil
}

// Sent returns a copy of every successful send.
func (t *Transport) Sent() []channel.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]channel.Outbound(nil), t.sent...)
}

// Attempts returns how many sends were tried for recipient.
func (t *Transport) Attempts(recipient string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[recipient]
}

// Registry returns a registry with this transport on every channel.
func (t *Transport) Registry() *channel.Registry {
	r := channel.NewRegistry()
	for _, c := range model.AllChannels {
		_ = r.Register(c, t)
	}
	return r
}
