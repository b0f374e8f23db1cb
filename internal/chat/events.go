package chat

import (
	pub_models "github.com/milarze/ergon/pkg/chat/models"
)

type State int

const (
	Idle State = iota
	AwaitingCompletion
	AwaitingToolResults
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCompletion:
		return "awaiting completion"
	case AwaitingToolResults:
		return "awaiting tool results"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	// EventState is sent on every state transition
	EventState EventKind = iota
	// EventMessage is sent for every message appended to the transcript
	EventMessage
)

type Event struct {
	Kind    EventKind
	State   State
	Message pub_models.Message
}
