// Package quorum tracks who is in a call and decides when a call is over,
// either because too few participants remain or because enough invitees
// declined it.
package quorum

import (
	"time"

	"github.com/google/uuid"

	"signaling-core/internal/domain"
)

// Tracker applies membership changes to a call
type Tracker struct {
	now func() time.Time
}

// NewTracker creates a tracker using wall-clock time
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// NewTrackerWithClock creates a tracker with an injected clock
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// Join adds userID to the participants. Idempotent; reports whether the
// participant set changed.
func (t *Tracker) Join(call *domain.Call, userID uuid.UUID) bool {
	return call.AddParticipant(userID, t.now().UTC())
}

// Leave removes userID from the participants. When one or no participant
// remains the call is ended and EndedAt is stamped. Leaving a call the
// user is not part of changes nothing. Reports whether the call changed.
func (t *Tracker) Leave(call *domain.Call, userID uuid.UUID) bool {
	if !call.RemoveParticipant(userID) {
		return false
	}
	if !call.Status.IsTerminal() && len(call.Participants) <= 1 {
		endedAt := t.now().UTC()
		call.Status = domain.CallStatusEnded
		call.EndedAt = &endedAt
	}
	return true
}

// Reject records userID as declining the call. When the number of
// rejections reaches requiredQuorum the call becomes rejected. A repeated
// rejection by the same user changes nothing. Reports whether the call
// changed.
func (t *Tracker) Reject(call *domain.Call, userID uuid.UUID, requiredQuorum int) bool {
	if call.Rejections == nil {
		call.Rejections = make(domain.UserSet)
	}
	if !call.Rejections.Add(userID) {
		return false
	}
	if !call.Status.IsTerminal() && requiredQuorum > 0 && call.Rejections.Len() >= requiredQuorum {
		call.Status = domain.CallStatusRejected
	}
	return true
}

// RequiredQuorum is the number of rejections that terminates a call: every
// expected member of the chat except the caller.
func RequiredQuorum(expected []uuid.UUID, callerID uuid.UUID) int {
	seen := make(domain.UserSet, len(expected))
	for _, id := range expected {
		if id == callerID || id == uuid.Nil {
			continue
		}
		seen.Add(id)
	}
	return seen.Len()
}
