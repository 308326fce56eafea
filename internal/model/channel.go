// Package model defines data structures for the outreach engine.
package model

import (
	"fmt"
	"strings"
)

// Channel is a communication medium. The set is closed.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTwitter   Channel = "twitter"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelSMS       Channel = "sms"
	ChannelTelegram  Channel = "telegram"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{
	ChannelEmail,
	ChannelInstagram,
	ChannelWhatsApp,
	ChannelTwitter,
	ChannelLinkedIn,
	ChannelSMS,
	ChannelTelegram,
}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannel normalizes and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// RequiredCredentialKeys lists the credential keys each channel needs.
func RequiredCredentialKeys(c Channel) []string {
	switch c {
	case ChannelEmail:
		return []string{"smtp_host", "username", "password"}
	case ChannelInstagram:
		return []string{"access_token", "page_id"}
	case ChannelWhatsApp:
		return []string{"access_token", "phone_number_id"}
	case ChannelTwitter:
		return []string{"bearer_token"}
	case ChannelLinkedIn:
		return []string{"access_token"}
	case ChannelSMS:
		return []string{"account_sid", "auth_token", "from_number"}
	case ChannelTelegram:
		return []string{"bot_token"}
	default:
		return nil
	}
}
