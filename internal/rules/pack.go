package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/outreach-engine/internal/model"
)

// Pack is a set of rules seeded into every new campaign.
type Pack struct {
	Rules []model.AutoResponseRule `yaml:"rules"`
}

// LoadFile reads a rule pack from a YAML file. An empty path yields an
// empty pack.
func LoadFile(path string) (*Pack, error) {
	if path == "" {
		return &Pack{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule pack.
func Parse(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for i := range p.Rules {
		if err := (model.CreateRuleRequest{AutoResponseRule: p.Rules[i]}).Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, p.Rules[i].Name, err)
		}
	}
	return &p, nil
}

// Seed returns copies of the pack's rules bound to a campaign.
func (p *Pack) Seed(campaignID string, now time.Time) []*model.AutoResponseRule {
	if p == nil {
		return nil
	}
	out := make([]*model.AutoResponseRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		r := r
		r.ID = uuid.Must(uuid.NewV7()).String()
		r.CampaignID = campaignID
		r.CreatedAt = now.UTC()
		out = append(out, &r)
	}
	return out
}
