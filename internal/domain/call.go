package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusOngoing  CallStatus = "ongoing"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
)

// IsTerminal reports whether no further mutation is allowed
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded
}

// Valid reports whether s is one of the known statuses
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusPending, CallStatusOngoing, CallStatusRejected, CallStatusEnded:
		return true
	}
	return false
}

// Call is the aggregate root for one call's negotiation state.
// Maps to the calls table (CockroachDB) or calls collection (MongoDB).
type Call struct {
	CallID       uuid.UUID                  `json:"call_id"`
	ChatID       uuid.UUID                  `json:"chat_id"`
	CallerID     uuid.UUID                  `json:"caller_id"`
	Status       CallStatus                 `json:"status"`
	StartedAt    time.Time                  `json:"started_at"`
	EndedAt      *time.Time                 `json:"ended_at,omitempty"`
	Participants []Participant              `json:"participants"`
	Negotiations map[LegKey]*NegotiationLeg `json:"negotiations"`
	Rejections   UserSet                    `json:"rejections"`
	Version      int64                      `json:"version"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// Participant is a user currently taking part in a call
type Participant struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewCall builds a pending call with the caller as its only participant
func NewCall(chatID, callerID uuid.UUID, now time.Time) *Call {
	return &Call{
		CallID:       uuid.New(),
		ChatID:       chatID,
		CallerID:     callerID,
		Status:       CallStatusPending,
		StartedAt:    now,
		Participants: []Participant{{UserID: callerID, JoinedAt: now}},
		Negotiations: make(map[LegKey]*NegotiationLeg),
		Rejections:   make(UserSet),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasParticipant reports whether userID is in the participant set
func (c *Call) HasParticipant(userID uuid.UUID) bool {
	return c.participantIndex(userID) >= 0
}

func (c *Call) participantIndex(userID uuid.UUID) int {
	for i, p := range c.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// AddParticipant appends userID if absent and reports whether it was added
func (c *Call) AddParticipant(userID uuid.UUID, now time.Time) bool {
	if c.HasParticipant(userID) {
		return false
	}
	c.Participants = append(c.Participants, Participant{UserID: userID, JoinedAt: now})
	return true
}

// RemoveParticipant drops userID and reports whether it was present
func (c *Call) RemoveParticipant(userID uuid.UUID) bool {
	i := c.participantIndex(userID)
	if i < 0 {
		return false
	}
	c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
	return true
}

// ParticipantIDs returns participant user ids in stored order
func (c *Call) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Leg returns the negotiation leg for key, or nil
func (c *Call) Leg(key LegKey) *NegotiationLeg {
	if c.Negotiations == nil {
		return nil
	}
	return c.Negotiations[key]
}

// Clone returns a deep copy. Stores hand out clones so that an in-flight
// mutation never aliases persisted state.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	out := *c
	if c.EndedAt != nil {
		endedAt := *c.EndedAt
		out.EndedAt = &endedAt
	}
	out.Participants = append([]Participant(nil), c.Participants...)
	out.Negotiations = make(map[LegKey]*NegotiationLeg, len(c.Negotiations))
	for k, leg := range c.Negotiations {
		out.Negotiations[k] = leg.Clone()
	}
	out.Rejections = c.Rejections.Clone()
	return &out
}

// LegKey addresses one directed negotiation leg: an offer sent by
// InitiatorID to TargetID.
type LegKey struct {
	InitiatorID uuid.UUID
	TargetID    uuid.UUID
}

// ErrInvalidLegKey is returned for nil or self-directed pairs
var ErrInvalidLegKey = errors.New("invalid negotiation pair")

// NewLegKey validates and builds a key
func NewLegKey(initiatorID, targetID uuid.UUID) (LegKey, error) {
	if initiatorID == uuid.Nil || targetID == uuid.Nil {
		return LegKey{}, fmt.Errorf("%w: empty user id", ErrInvalidLegKey)
	}
	if initiatorID == targetID {
		return LegKey{}, fmt.Errorf("%w: initiator and target are the same user", ErrInvalidLegKey)
	}
	return LegKey{InitiatorID: initiatorID, TargetID: targetID}, nil
}

// Reverse returns the key for the opposite direction
func (k LegKey) Reverse() LegKey {
	return LegKey{InitiatorID: k.TargetID, TargetID: k.InitiatorID}
}

// String renders the key as "<initiator>:<target>"
func (k LegKey) String() string {
	return k.InitiatorID.String() + ":" + k.TargetID.String()
}

// MarshalText lets LegKey be used as a JSON object key
func (k LegKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "<initiator>:<target>"
func (k *LegKey) UnmarshalText(text []byte) error {
	parsed, err := ParseLegKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseLegKey parses the String form of a key
func ParseLegKey(s string) (LegKey, error) {
	initiator, target, ok := strings.Cut(s, ":")
	if !ok {
		return LegKey{}, fmt.Errorf("%w: %q", ErrInvalidLegKey, s)
	}
	initiatorID, err := uuid.Parse(initiator)
	if err != nil {
		return LegKey{}, fmt.Errorf("%w: %v", ErrInvalidLegKey, err)
	}
	targetID, err := uuid.Parse(target)
	if err != nil {
		return LegKey{}, fmt.Errorf("%w: %v", ErrInvalidLegKey, err)
	}
	return NewLegKey(initiatorID, targetID)
}

// NegotiationLeg holds the offer/answer exchange of one direction.
// Blobs are opaque JSON values relayed verbatim.
type NegotiationLeg struct {
	Offer              json.RawMessage   `json:"offer,omitempty"`
	OffererCandidates  []json.RawMessage `json:"offerer_candidates"`
	Answer             json.RawMessage   `json:"answer,omitempty"`
	AnswererCandidates []json.RawMessage `json:"answerer_candidates"`
}

// NewNegotiationLeg returns an empty leg
func NewNegotiationLeg() *NegotiationLeg {
	return &NegotiationLeg{
		OffererCandidates:  []json.RawMessage{},
		AnswererCandidates: []json.RawMessage{},
	}
}

// HasOffer reports whether an offer has been recorded
func (l *NegotiationLeg) HasOffer() bool {
	return l != nil && !isEmptyBlob(l.Offer)
}

// HasAnswer reports whether an answer has been recorded
func (l *NegotiationLeg) HasAnswer() bool {
	return l != nil && !isEmptyBlob(l.Answer)
}

// Clone returns a deep copy of the leg
func (l *NegotiationLeg) Clone() *NegotiationLeg {
	if l == nil {
		return nil
	}
	return &NegotiationLeg{
		Offer:              cloneBlob(l.Offer),
		OffererCandidates:  cloneBlobs(l.OffererCandidates),
		Answer:             cloneBlob(l.Answer),
		AnswererCandidates: cloneBlobs(l.AnswererCandidates),
	}
}

func isEmptyBlob(b json.RawMessage) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsEmptyBlob reports whether a payload carries no value (absent or JSON null)
func IsEmptyBlob(b json.RawMessage) bool {
	return isEmptyBlob(b)
}

func cloneBlob(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneBlobs(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, b := range in {
		out[i] = cloneBlob(b)
	}
	return out
}

// UserSet is a set of user ids. Serialized as {"<id>": true}.
type UserSet map[uuid.UUID]struct{}

// Add inserts id and reports whether it was newly added
func (s UserSet) Add(id uuid.UUID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports membership
func (s UserSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the set size
func (s UserSet) Len() int {
	return len(s)
}

// Slice returns members sorted by their string form
func (s UserSet) Slice() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Clone copies the set
func (s UserSet) Clone() UserSet {
	out := make(UserSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// NewUserSet builds a set from ids
func NewUserSet(ids ...uuid.UUID) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// MarshalJSON encodes the set as {"<id>": true}
func (s UserSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, len(s))
	for id := range s {
		m[id.String()] = true
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes {"<id>": true}; false entries are skipped
func (s *UserSet) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(UserSet, len(m))
	for k, v := range m {
		if !v {
			continue
		}
		id, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("invalid user id in set: %w", err)
		}
		out[id] = struct{}{}
	}
	*s = out
	return nil
}
