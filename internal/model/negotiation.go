package model

import (
	"time"
)

// NegotiationState is the position of a negotiation in its lifecycle.
type NegotiationState string

const (
	NegotiationInitialContact   NegotiationState = "initial_contact"
	NegotiationInterestShown    NegotiationState = "interest_shown"
	NegotiationNegotiatingTerms NegotiationState = "negotiating_terms"
	NegotiationFinalOffer       NegotiationState = "final_offer"
	NegotiationClosed           NegotiationState = "closed"
)

// Stance is the counterpart's position in a negotiation reply.
type Stance string

const (
	StanceAccepting       Stance = "accepting"
	StanceRejecting       Stance = "rejecting"
	StanceCounterOffering Stance = "counter_offering"
	StanceConsidering     Stance = "considering"
)

// Proposer identifies who made an offer.
type Proposer string

const (
	ProposerUs   Proposer = "us"
	ProposerThem Proposer = "them"
)

// Outcome is how a closed negotiation ended.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Offer is one proposal in a negotiation.
type Offer struct {
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Terms      string    `json:"terms,omitempty"`
	ProposedBy Proposer  `json:"proposed_by"`
	ProposedAt time.Time `json:"proposed_at"`
}

// Strategy is the annotation guiding our next negotiation move.
type Strategy struct {
	Approach        string   `json:"approach"`
	NextAction      string   `json:"next_action"`
	ConcessionAreas []string `json:"concession_areas,omitempty"`
	HoldFirmAreas   []string `json:"hold_firm_areas,omitempty"`
	Tactics         []string `json:"tactics,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	// CounterOffer is set when the strategy calls for a counter proposal.
	CounterOffer *Offer `json:"counter_offer,omitempty"`
}

// Negotiation is a deal-making sub-process attached to a conversation.
type Negotiation struct {
	ID                string           `json:"id"`
	CampaignID        string           `json:"campaign_id"`
	TargetID          string           `json:"target_id"`
	ConversationID    string           `json:"conversation_id"`
	State             NegotiationState `json:"state"`
	Offers            []Offer          `json:"offers"`
	CurrentOffer      *Offer           `json:"current_offer,omitempty"`
	Strategy          *Strategy        `json:"strategy,omitempty"`
	LikelihoodToClose float64          `json:"likelihood_to_close"`
	LastStance        Stance           `json:"last_stance,omitempty"`
	Outcome           Outcome          `json:"outcome,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ClosedAt          *time.Time       `json:"closed_at,omitempty"`
}
