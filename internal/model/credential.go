package model

import (
	"time"
)

// Credentials are the decrypted key/value secrets for one channel.
type Credentials map[string]string

// ChannelCredential is an owner's encrypted credential record for a channel.
type ChannelCredential struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Channel     Channel    `json:"channel"`
	Sealed      []byte     `json:"sealed"`
	DailyLimit  int        `json:"daily_limit"`
	RateLimit   int        `json:"rate_limit"`
	IsActive    bool       `json:"is_active"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Profile is what a transport can tell about a handle.
type Profile struct {
	Handle      string            `json:"handle"`
	DisplayName string            `json:"display_name,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
