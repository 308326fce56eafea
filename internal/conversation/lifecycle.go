package conversation

import (
	"github.com/capitalize-ai/outreach-engine/internal/model"
)

var statusRank = map[model.MessageStatus]int{
	model.StatusPending:   0,
	model.StatusQueued:    1,
	model.StatusSent:      2,
	model.StatusDelivered: 3,
	model.StatusRead:      4,
	model.StatusReplied:   5,
}

// Terminal reports whether a message status admits no further transitions.
func Terminal(s model.MessageStatus) bool {
	switch s {
	case model.StatusReplied, model.StatusFailed, model.StatusBounced:
		return true
	}
	return false
}

// CanTransitionMessage reports whether a message may move between statuses.
// The main chain pending → queued → sent → delivered → read → replied only
// moves forward; providers may skip a step after sent (a read receipt
// without a delivery receipt). failed is reachable before delivery, bounced
// only from sent. A retry never revives a message: it creates a new one.
func CanTransitionMessage(from, to model.MessageStatus) bool {
	if Terminal(from) {
		return false
	}
	switch to {
	case model.StatusFailed:
		return from == model.StatusPending || from == model.StatusQueued || from == model.StatusSent
	case model.StatusBounced:
		return from == model.StatusSent
	}

	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok || tr <= fr {
		return false
	}
	if fr < statusRank[model.StatusSent] {
		return tr == fr+1
	}
	return true
}
