package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignStatusTransitions(t *testing.T) {
	assert.True(t, CampaignDraft.CanTransition(CampaignActive))
	assert.True(t, CampaignActive.CanTransition(CampaignPaused))
	assert.True(t, CampaignPaused.CanTransition(CampaignActive))
	assert.False(t, CampaignDraft.CanTransition(CampaignPaused))
	assert.False(t, CampaignCompleted.CanTransition(CampaignActive))
	assert.False(t, CampaignCancelled.CanTransition(CampaignDraft))
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel(" WhatsApp ")
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, c)

	_, err = ParseChannel("fax")
	assert.Error(t, err)
}

func TestAgentConfigDefaults(t *testing.T) {
	var a *AgentConfig
	assert.Equal(t, 10, a.MaxMessages())

	lo, hi := a.ResponseWindow()
	assert.Equal(t, DefaultResponseTimeMin, lo)
	assert.Equal(t, DefaultResponseTimeMax, hi)
}

func TestCreateCampaignRequestValidate(t *testing.T) {
	ok := CreateCampaignRequest{Name: "Q3 partners", Goal: GoalPartnership, Channels: []Channel{ChannelEmail}}
	assert.NoError(t, ok.Validate())

	bad := CreateCampaignRequest{Name: "", Goal: "world_domination", Channels: []Channel{"fax"}}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "goal")
	assert.Contains(t, err.Error(), "channels")
}

func TestSendMessageRequestNeedsTemplateOrContent(t *testing.T) {
	req := SendMessageRequest{TargetID: "t1", Channel: ChannelSMS}
	assert.Error(t, req.Validate())

	req.Content = "hello"
	assert.NoError(t, req.Validate())
}

func TestTargetTags(t *testing.T) {
	tgt := &Target{Name: "Ada Lovelace"}
	tgt.AddTag("vip")
	tgt.AddTag("vip")

	assert.Equal(t, []string{"vip"}, tgt.Tags)
	assert.Equal(t, "Ada", tgt.FirstName())
}
