package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallEventType names the operation that produced a state change
type CallEventType string

const (
	CallEventCreated   CallEventType = "created"
	CallEventOffer     CallEventType = "offer"
	CallEventAnswer    CallEventType = "answer"
	CallEventCandidate CallEventType = "ice_candidate"
	CallEventJoined    CallEventType = "joined"
	CallEventLeft      CallEventType = "left"
	CallEventRejected  CallEventType = "rejected"
)

// CallEvent describes one persisted state mutation of a call.
// Maps to Cassandra call_events table, keyed by (call_id, version).
type CallEvent struct {
	EventID        uuid.UUID     `json:"event_id" cql:"event_id"`
	CallID         uuid.UUID     `json:"call_id" cql:"call_id"`
	ChatID         uuid.UUID     `json:"chat_id" cql:"chat_id"`
	Type           CallEventType `json:"type" cql:"type"`
	ActorID        uuid.UUID     `json:"actor_id" cql:"actor_id"`
	TargetID       *uuid.UUID    `json:"target_id,omitempty" cql:"target_id"`
	PreviousStatus CallStatus    `json:"previous_status" cql:"previous_status"`
	Status         CallStatus    `json:"status" cql:"status"`
	Version        int64         `json:"version" cql:"version"`
	OccurredAt     time.Time     `json:"occurred_at" cql:"occurred_at"`
}

// StatusChanged reports whether the event moved the call to a new status
func (e CallEvent) StatusChanged() bool {
	return e.PreviousStatus != e.Status
}

// CallStateMessageType tags call state messages pushed to listeners
const CallStateMessageType = "call_state"

// CallStateMessage is the body fanned out to call listeners after every
// persisted change
type CallStateMessage struct {
	Type  string    `json:"type"`
	Call  *Call     `json:"call"`
	Event CallEvent `json:"event"`
}

// NewCallStateMessage builds the listener message for a change
func NewCallStateMessage(call *Call, event CallEvent) CallStateMessage {
	return CallStateMessage{Type: CallStateMessageType, Call: call, Event: event}
}

// CallChannel returns the pub/sub channel carrying a call's state messages
func CallChannel(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}
