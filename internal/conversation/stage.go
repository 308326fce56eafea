// Package conversation holds the conversation stage machine and the message
// delivery lifecycle rules.
package conversation

import (
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

var stageRank = map[model.Stage]int{
	model.StageInitialContact: 0,
	model.StageQualification:  1,
	model.StageDiscovery:      2,
	model.StageProposal:       3,
	model.StageNegotiation:    4,
	model.StageClosing:        5,
	model.StageFollowUp:       6,
}

var advance = map[model.Stage]model.Stage{
	model.StageInitialContact: model.StageQualification,
	model.StageQualification:  model.StageDiscovery,
	model.StageDiscovery:      model.StageProposal,
	model.StageProposal:       model.StageNegotiation,
	model.StageNegotiation:    model.StageClosing,
}

// Rank returns the position of s in the stage order, or -1 if unknown.
func Rank(s model.Stage) int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Reached reports whether s is at or beyond min in the main progression.
// follow_up is off the main progression and never counts as reaching a
// stage other than itself.
func Reached(s, min model.Stage) bool {
	if s == model.StageFollowUp || min == model.StageFollowUp {
		return s == min
	}
	return Rank(s) >= Rank(min)
}

// CanTransition reports whether a conversation may move from one stage to
// another. Stages only move forward, follow_up is reachable from any other
// stage and is terminal.
func CanTransition(from, to model.Stage) bool {
	if from == to {
		return true
	}
	if Rank(from) < 0 || Rank(to) < 0 || from == model.StageFollowUp {
		return false
	}
	if to == model.StageFollowUp {
		return true
	}
	return Rank(to) > Rank(from)
}

// NextStage computes the stage after an analyzed reply. Replies that are
// negative, neutral, questions or anything else hold the current stage.
func NextStage(current model.Stage, analysis *model.Analysis) model.Stage {
	if analysis == nil || current == model.StageFollowUp {
		return current
	}

	switch analysis.ResponseType {
	case model.ResponseUnsubscribe:
		return model.StageFollowUp
	case model.ResponseScheduleMeeting:
		switch current {
		case model.StageInitialContact, model.StageQualification:
			return model.StageDiscovery
		case model.StageDiscovery:
			return model.StageProposal
		}
	case model.ResponsePositive:
		if next, ok := advance[current]; ok {
			return next
		}
	}
	return current
}
