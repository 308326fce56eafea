// Package rules matches inbound replies against auto-response rules and
// carries out their actions.
package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// EscalationTag marks targets that need a human to take over.
const EscalationTag = "needs_human_review"

const defaultFollowUpDays = 3

// Match returns the first active rule whose trigger type and keywords both
// fit the reply. Rules are considered in the given order, which callers
// keep sorted by descending priority.
func Match(rules []*model.AutoResponseRule, analysis *model.Analysis, text string) *model.AutoResponseRule {
	lower := strings.ToLower(text)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.TriggerType == "" && len(r.Keywords) == 0 {
			continue
		}
		if r.TriggerType != "" && (analysis == nil || r.TriggerType != analysis.ResponseType) {
			continue
		}
		if len(r.Keywords) > 0 && !containsAny(lower, r.Keywords) {
			continue
		}
		return r
	}
	return nil
}

// Escalates reports whether the reply mentions one of an agent's
// escalation triggers.
func Escalates(triggers []string, text string) bool {
	return containsAny(strings.ToLower(text), triggers)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Effects reports what executing a rule's actions did.
type Effects struct {
	Tags          []string
	FollowUpAt    *time.Time
	Escalated     bool
	FieldUpdates  map[string]string
	Notifications []string
}

// Execute applies actions to the target and conversation in place.
// Unknown actions are ignored.
func Execute(actions []model.RuleAction, t *model.Target, conv *model.Conversation, now time.Time) Effects {
	var fx Effects
	for _, a := range actions {
		switch a.Type {
		case model.ActionAddTag:
			if tag := a.Params["tag"]; tag != "" {
				t.AddTag(tag)
				fx.Tags = append(fx.Tags, tag)
			}

		case model.ActionScheduleFollowUp:
			days, err := strconv.Atoi(a.Params["days"])
			if err != nil || days <= 0 {
				days = defaultFollowUpDays
			}
			at := now.UTC().AddDate(0, 0, days)
			t.NextFollowUpAt = &at
			fx.FollowUpAt = &at

		case model.ActionEscalate:
			if conv != nil {
				conv.AgentBound = false
			}
			t.AddTag(EscalationTag)
			fx.Escalated = true

		case model.ActionUpdateField:
			for k, v := range a.Params {
				setField(t, k, v)
				if fx.FieldUpdates == nil {
					fx.FieldUpdates = make(map[string]string)
				}
				fx.FieldUpdates[k] = v
			}

		case model.ActionNotifyTeam:
			msg := a.Params["message"]
			if msg == "" {
				msg = "auto-response rule requested team attention"
			}
			fx.Notifications = append(fx.Notifications, msg)
		}
	}
	return fx
}

// setField writes the known identity fields directly and everything else
// into the custom fields.
func setField(t *model.Target, key, value string) {
	switch key {
	case "company":
		t.Company = value
	case "title":
		t.Title = value
	case "location":
		t.Location = value
	case "timezone":
		t.Timezone = value
	default:
		if t.CustomFields == nil {
			t.CustomFields = make(map[string]string)
		}
		t.CustomFields[key] = value
	}
}
