package negotiation

import (
	"encoding/json"

	"github.com/google/uuid"

	"signaling-core/internal/domain"
	"signaling-core/internal/service/quorum"
	apperrors "signaling-core/pkg/errors"
)

// Side tells which half of a leg a candidate was attached to
type Side string

const (
	SideOfferer  Side = "offerer"
	SideAnswerer Side = "answerer"
)

// CandidateResult describes where a candidate landed
type CandidateResult struct {
	Leg           domain.LegKey
	Side          Side
	AnswerPresent bool
}

// Engine applies offer, answer and ICE candidate events to a call's
// negotiation map. It never inspects payload contents, only their
// presence and ordering.
type Engine struct {
	tracker *quorum.Tracker
}

// NewEngine creates an engine that registers senders through tracker
func NewEngine(tracker *quorum.Tracker) *Engine {
	return &Engine{tracker: tracker}
}

// SubmitOffer records an offer from initiatorID to targetID. A second
// offer for the same direction fails with DUPLICATE_OFFER.
func (e *Engine) SubmitOffer(call *domain.Call, initiatorID, targetID uuid.UUID, offer json.RawMessage) error {
	key, err := e.prepare(call, initiatorID, targetID, offer)
	if err != nil {
		return err
	}

	leg := call.Leg(key)
	if leg.HasOffer() {
		return apperrors.DuplicateOfferError().WithDetails(map[string]string{"leg": key.String()})
	}
	if leg == nil {
		leg = domain.NewNegotiationLeg()
		call.Negotiations[key] = leg
	}
	leg.Offer = append(json.RawMessage(nil), offer...)

	e.tracker.Join(call, initiatorID)
	return nil
}

// SubmitAnswer records initiatorID's answer to the offer it received from
// targetID. The answer is stored on the leg keyed by the original offer
// direction (targetID -> initiatorID). A later answer replaces an earlier
// one.
func (e *Engine) SubmitAnswer(call *domain.Call, initiatorID, targetID uuid.UUID, answer json.RawMessage) error {
	key, err := e.prepare(call, initiatorID, targetID, answer)
	if err != nil {
		return err
	}

	leg := call.Leg(key.Reverse())
	if !leg.HasOffer() {
		return apperrors.NoMatchingOfferError().WithDetails(map[string]string{"leg": key.Reverse().String()})
	}
	leg.Answer = append(json.RawMessage(nil), answer...)

	e.tracker.Join(call, initiatorID)
	return nil
}

// SubmitCandidate appends an ICE candidate from initiatorID addressed to
// targetID. If initiatorID opened a leg to targetID the candidate belongs to
// the offerer side; if targetID opened a leg to initiatorID it belongs to
// the answerer side. With neither leg present it fails with
// NO_NEGOTIATION_CONTEXT. Identical candidates are appended again.
func (e *Engine) SubmitCandidate(call *domain.Call, initiatorID, targetID uuid.UUID, candidate json.RawMessage) (CandidateResult, error) {
	key, err := e.prepare(call, initiatorID, targetID, candidate)
	if err != nil {
		return CandidateResult{}, err
	}
	blob := append(json.RawMessage(nil), candidate...)

	if leg := call.Leg(key); leg != nil {
		leg.OffererCandidates = append(leg.OffererCandidates, blob)
		return CandidateResult{Leg: key, Side: SideOfferer, AnswerPresent: leg.HasAnswer()}, nil
	}
	if leg := call.Leg(key.Reverse()); leg != nil {
		leg.AnswererCandidates = append(leg.AnswererCandidates, blob)
		return CandidateResult{Leg: key.Reverse(), Side: SideAnswerer, AnswerPresent: leg.HasAnswer()}, nil
	}
	return CandidateResult{}, apperrors.NoNegotiationContextError().WithDetails(map[string]string{"leg": key.String()})
}

func (e *Engine) prepare(call *domain.Call, initiatorID, targetID uuid.UUID, payload json.RawMessage) (domain.LegKey, error) {
	if call.Status.IsTerminal() {
		return domain.LegKey{}, apperrors.CallTerminatedError()
	}
	key, err := domain.NewLegKey(initiatorID, targetID)
	if err != nil {
		return domain.LegKey{}, apperrors.InvalidInputError(err.Error())
	}
	if domain.IsEmptyBlob(payload) {
		return domain.LegKey{}, apperrors.MissingFieldError("payload")
	}
	if call.Negotiations == nil {
		call.Negotiations = make(map[domain.LegKey]*domain.NegotiationLeg)
	}
	return key, nil
}
