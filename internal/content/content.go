// Package content renders and shapes outbound message text.
package content

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/llm"
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Placeholders look like {{name}} or {name}. Unknown placeholders are left
// verbatim so a broken template is visible instead of silently shortened.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}|\{([A-Za-z0-9_]+)\}`)

// Per-channel length limits, in runes.
const (
	smsSegment     = 160
	smsMaxSegments = 3
	twitterDMMax   = 10000
	subjectMax     = 200
)

// Message is rendered text ready for a channel.
type Message struct {
	Subject string
	Body    string
}

// Variables returns the substitution set for a target on a channel.
// Campaign variables are overridden by custom fields, which are overridden
// by built-in identity fields, which are overridden by extra.
func Variables(t *model.Target, c model.Channel, campaignVars, extra map[string]string) map[string]string {
	vars := make(map[string]string)
	for k, v := range campaignVars {
		vars[k] = v
	}
	for k, v := range t.CustomFields {
		vars[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			vars[k] = v
		}
	}
	set("name", t.Name)
	set("first_name", t.FirstName())
	set("company", t.Company)
	set("title", t.Title)
	set("location", t.Location)
	set("channel", string(c))
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// Render substitutes known placeholders in tmpl.
func Render(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		key := groups[1]
		if key == "" {
			key = groups[2]
		}
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}

// Unresolved lists placeholders left in rendered text.
func Unresolved(text string) []string {
	var keys []string
	for _, groups := range placeholderRe.FindAllStringSubmatch(text, -1) {
		key := groups[1]
		if key == "" {
			key = groups[2]
		}
		keys = append(keys, key)
	}
	return keys
}

// Shape applies channel conventions: only email carries a subject, SMS is
// cut to three segments and Twitter DMs to their maximum length.
func Shape(c model.Channel, msg Message) Message {
	msg.Body = strings.TrimSpace(msg.Body)
	switch c {
	case model.ChannelEmail:
		msg.Subject = truncate(strings.TrimSpace(msg.Subject), subjectMax)
	case model.ChannelSMS:
		msg.Subject = ""
		msg.Body = truncate(msg.Body, smsSegment*smsMaxSegments)
	case model.ChannelTwitter:
		msg.Subject = ""
		msg.Body = truncate(msg.Body, twitterDMMax)
	default:
		msg.Subject = ""
	}
	return msg
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// Generator turns templates or objectives into channel-ready text.
type Generator struct {
	llm llm.Generator
}

// NewGenerator creates a content generator. gen may be nil, in which case
// only templates can be rendered.
func NewGenerator(gen llm.Generator) *Generator {
	return &Generator{llm: gen}
}

// FromTemplate renders and shapes a template for target.
func (g *Generator) FromTemplate(c model.Channel, subject, body string, vars map[string]string) Message {
	return Shape(c, Message{
		Subject: Render(subject, vars),
		Body:    Render(body, vars),
	})
}

// FromObjective free-generates a first-touch message for target.
func (g *Generator) FromObjective(ctx context.Context, c model.Channel, campaign *model.Campaign, t *model.Target) (Message, error) {
	if g.llm == nil {
		return Message{}, apperr.GenerationUnavailable(fmt.Errorf("no generator configured"))
	}

	var system strings.Builder
	fmt.Fprintf(&system, "You write short, professional %s outreach messages for a %s campaign named %q.",
		c, campaign.Goal, campaign.Name)
	if campaign.Description != "" {
		fmt.Fprintf(&system, " Campaign context: %s.", campaign.Description)
	}
	if campaign.Agent != nil && len(campaign.Agent.Objectives) > 0 {
		fmt.Fprintf(&system, " Objectives: %s.", strings.Join(campaign.Agent.Objectives, "; "))
	}

	instruction := fmt.Sprintf("Write a %s message for %s", c, t.Name)
	if t.Title != "" {
		instruction += " who is a " + t.Title
	}
	if t.Company != "" {
		instruction += " at " + t.Company
	}
	instruction += ". Reply with the message text only."

	text, err := g.llm.Generate(ctx, llm.GenerateRequest{
		SystemContext: system.String(),
		Instruction:   instruction,
	})
	if err != nil {
		return Message{}, err
	}

	subject := ""
	if c == model.ChannelEmail {
		subject = campaign.Personalization.Subject
		if subject == "" {
			subject = campaign.Name
		}
	}
	return Shape(c, Message{Subject: subject, Body: text}), nil
}
