package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signaling-core/internal/domain"
	"signaling-core/internal/service/negotiation"
	"signaling-core/internal/service/quorum"
	"signaling-core/pkg/constants"
	appctx "signaling-core/pkg/context"
	apperrors "signaling-core/pkg/errors"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
)

// DefaultMaxSaveAttempts bounds the optimistic retry loop
const DefaultMaxSaveAttempts = constants.DefaultMaxSaveAttempts

// Service is the session lifecycle controller. It loads a call, delegates
// to the negotiation engine or the quorum tracker, persists the result and
// notifies the sink.
type Service struct {
	callRepo        CallRepository
	membership      MembershipOracle
	sink            NotificationSink
	engine          *negotiation.Engine
	tracker         *quorum.Tracker
	maxSaveAttempts int
	maxPayloadBytes int
	now             func() time.Time
}

// Option customises a Service
type Option func(*Service)

// WithMaxSaveAttempts overrides DefaultMaxSaveAttempts
func WithMaxSaveAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSaveAttempts = n
		}
	}
}

// WithMaxPayloadBytes caps the size of one offer, answer or candidate
func WithMaxPayloadBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPayloadBytes = n
		}
	}
}

// WithClock injects the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	membership MembershipOracle,
	sink NotificationSink,
	opts ...Option,
) *Service {
	s := &Service{
		callRepo:        callRepo,
		membership:      membership,
		sink:            sink,
		maxSaveAttempts: DefaultMaxSaveAttempts,
		maxPayloadBytes: constants.MaxSignalPayloadBytes,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}
	s.tracker = quorum.NewTrackerWithClock(s.now)
	s.engine = negotiation.NewEngine(s.tracker)
	return s
}

// SignalInput carries one offer, answer or candidate
type SignalInput struct {
	CallID   uuid.UUID
	SenderID uuid.UUID
	TargetID uuid.UUID
	Payload  json.RawMessage
}

// CandidateOutput is the result of HandleCandidate
type CandidateOutput struct {
	Call          *domain.Call
	Side          negotiation.Side
	AnswerPresent bool
}

// CreateCall starts a pending call in chatID with callerID as the only
// participant. Fails with CALL_IN_PROGRESS if the chat already has an
// ongoing call.
func (s *Service) CreateCall(ctx context.Context, chatID, callerID uuid.UUID) (*domain.Call, error) {
	const op = "create"
	start := time.Now()
	defer observeDuration(op, start)

	ctx, cancel := appctx.WithOperationTimeout(ctx)
	defer cancel()

	if err := s.authorize(ctx, chatID, callerID); err != nil {
		return nil, s.fail(op, err)
	}

	active, err := s.callRepo.GetActiveByChat(ctx, chatID)
	switch {
	case err == nil && active != nil:
		return nil, s.fail(op, apperrors.CallInProgressError().WithDetails(map[string]string{"call_id": active.CallID.String()}))
	case err != nil && !apperrors.HasCode(err, apperrors.ErrCodeCallNotFound):
		return nil, s.fail(op, err)
	}

	call, err := s.callRepo.Create(ctx, chatID, callerID, s.now().UTC())
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("failed to create call record: %w", err))
	}

	metrics.CallsCreatedTotal.Inc()
	metrics.CallOperationsTotal.WithLabelValues(op, "ok").Inc()
	logger.FromContext(ctx).Info("Call created",
		zap.String("call_id", call.CallID.String()),
		zap.String("chat_id", chatID.String()),
		zap.String("caller_id", callerID.String()))

	s.notify(ctx, call, domain.CallEventCreated, callerID, nil, call.Status)
	return call, nil
}

// HandleOffer records an offer from SenderID to TargetID. The first
// successful offer moves a pending call to ongoing.
func (s *Service) HandleOffer(ctx context.Context, input *SignalInput) (*domain.Call, error) {
	if err := s.checkPayload("offer", input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "offer", input.CallID, func(call *domain.Call) (mutation, error) {
		if err := s.checkActive(ctx, call, input.SenderID); err != nil {
			return mutation{}, err
		}
		if err := s.engine.SubmitOffer(call, input.SenderID, input.TargetID, input.Payload); err != nil {
			return mutation{}, err
		}
		markOngoing(call)
		return changed(domain.CallEventOffer, input.SenderID, &input.TargetID), nil
	})
}

// HandleAnswer records SenderID's answer to the offer made by TargetID.
// The first successful answer moves a pending call to ongoing.
func (s *Service) HandleAnswer(ctx context.Context, input *SignalInput) (*domain.Call, error) {
	if err := s.checkPayload("answer", input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "answer", input.CallID, func(call *domain.Call) (mutation, error) {
		if err := s.checkActive(ctx, call, input.SenderID); err != nil {
			return mutation{}, err
		}
		if err := s.engine.SubmitAnswer(call, input.SenderID, input.TargetID, input.Payload); err != nil {
			return mutation{}, err
		}
		markOngoing(call)
		return changed(domain.CallEventAnswer, input.SenderID, &input.TargetID), nil
	})
}

// HandleCandidate appends an ICE candidate to the leg shared by SenderID
// and TargetID
func (s *Service) HandleCandidate(ctx context.Context, input *SignalInput) (*CandidateOutput, error) {
	if err := s.checkPayload("candidate", input); err != nil {
		return nil, err
	}
	var result negotiation.CandidateResult
	call, err := s.mutate(ctx, "candidate", input.CallID, func(call *domain.Call) (mutation, error) {
		if err := s.checkActive(ctx, call, input.SenderID); err != nil {
			return mutation{}, err
		}
		res, err := s.engine.SubmitCandidate(call, input.SenderID, input.TargetID, input.Payload)
		if err != nil {
			return mutation{}, err
		}
		result = res
		return changed(domain.CallEventCandidate, input.SenderID, &input.TargetID), nil
	})
	if err != nil {
		return nil, err
	}
	return &CandidateOutput{Call: call, Side: result.Side, AnswerPresent: result.AnswerPresent}, nil
}

// AddParticipant joins userID to the call. Joining twice is a no-op.
func (s *Service) AddParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.mutate(ctx, "join", callID, func(call *domain.Call) (mutation, error) {
		if err := s.checkActive(ctx, call, userID); err != nil {
			return mutation{}, err
		}
		if !s.tracker.Join(call, userID) {
			return unchanged(), nil
		}
		return changed(domain.CallEventJoined, userID, nil), nil
	})
}

// LeaveCall removes userID from the call, ending it when at most one
// participant remains
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.mutate(ctx, "leave", callID, func(call *domain.Call) (mutation, error) {
		if err := s.checkActive(ctx, call, userID); err != nil {
			return mutation{}, err
		}
		if !s.tracker.Leave(call, userID) {
			return unchanged(), nil
		}
		return changed(domain.CallEventLeft, userID, nil), nil
	})
}

// RejectCall records userID declining the call. Once every expected member
// other than the caller has declined, the call becomes rejected. A repeated
// rejection by the same user returns the call unchanged, even after the
// call reached a terminal state.
func (s *Service) RejectCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.mutate(ctx, "reject", callID, func(call *domain.Call) (mutation, error) {
		if call.Rejections.Has(userID) {
			return unchanged(), nil
		}
		if err := s.checkActive(ctx, call, userID); err != nil {
			return mutation{}, err
		}
		if userID == call.CallerID {
			return mutation{}, apperrors.InvalidInputError("caller cannot reject own call, leave it instead")
		}

		expected, err := s.membership.ListExpectedParticipants(ctx, call.ChatID)
		if err != nil {
			return mutation{}, fmt.Errorf("failed to list chat members: %w", err)
		}
		required := quorum.RequiredQuorum(expected, call.CallerID)

		if !s.tracker.Reject(call, userID, required) {
			return unchanged(), nil
		}
		return changed(domain.CallEventRejected, userID, nil), nil
	})
}

// GetCall retrieves a call by id for a member of its chat
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, call.ChatID, userID); err != nil {
		return nil, err
	}
	return call, nil
}

// GetActiveCallForChat returns the ongoing call of chatID, if any. The
// requesting user must be a member of the chat.
func (s *Service) GetActiveCallForChat(ctx context.Context, chatID, userID uuid.UUID) (*domain.Call, error) {
	if err := s.authorize(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.callRepo.GetActiveByChat(ctx, chatID)
}

// mutation is what an apply step reports back to mutate
type mutation struct {
	changed  bool
	event    domain.CallEventType
	actorID  uuid.UUID
	targetID *uuid.UUID
}

func changed(event domain.CallEventType, actorID uuid.UUID, targetID *uuid.UUID) mutation {
	return mutation{changed: true, event: event, actorID: actorID, targetID: targetID}
}

func unchanged() mutation {
	return mutation{}
}

// mutate runs read-apply-save with bounded optimistic retry. apply is
// re-run on a fresh read after every CONFLICT.
func (s *Service) mutate(ctx context.Context, op string, callID uuid.UUID, apply func(call *domain.Call) (mutation, error)) (*domain.Call, error) {
	start := time.Now()
	defer observeDuration(op, start)

	ctx, cancel := appctx.WithOperationTimeout(ctx)
	defer cancel()

	ctx = logger.WithCallID(ctx, callID.String())
	log := logger.FromContext(ctx).With(zap.String("operation", op))

	var lastErr error
	for attempt := 1; attempt <= s.maxSaveAttempts; attempt++ {
		call, err := s.callRepo.GetByID(ctx, callID)
		if err != nil {
			return nil, s.fail(op, err)
		}

		previous := call.Status
		m, err := apply(call)
		if err != nil {
			return nil, s.fail(op, err)
		}
		if !m.changed {
			metrics.CallOperationsTotal.WithLabelValues(op, "noop").Inc()
			return call, nil
		}

		call.UpdatedAt = s.now().UTC()
		err = s.callRepo.Save(ctx, call)
		if err == nil {
			metrics.CallOperationsTotal.WithLabelValues(op, "ok").Inc()
			if previous != call.Status {
				metrics.CallTransitionsTotal.WithLabelValues(string(previous), string(call.Status)).Inc()
				log.Info("Call status changed",
					zap.String("from", string(previous)),
					zap.String("to", string(call.Status)),
					zap.String("actor_id", m.actorID.String()))
			}
			s.notify(ctx, call, m.event, m.actorID, m.targetID, previous)
			return call, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, s.fail(op, err)
		}

		lastErr = err
		metrics.CallSaveConflictsTotal.WithLabelValues(op).Inc()
		log.Debug("Call save conflict, retrying", zap.Int("attempt", attempt))
	}

	metrics.CallRetriesExhaustedTotal.WithLabelValues(op).Inc()
	log.Warn("Call save retries exhausted", zap.Int("attempts", s.maxSaveAttempts))
	return nil, s.fail(op, lastErr)
}

func (s *Service) checkPayload(op string, input *SignalInput) error {
	if input == nil {
		return s.fail(op, apperrors.InvalidInputError("signal input is required"))
	}
	if len(input.Payload) > s.maxPayloadBytes {
		return s.fail(op, apperrors.InvalidInputError(
			fmt.Sprintf("payload exceeds %d bytes", s.maxPayloadBytes)))
	}
	return nil
}

// checkActive rejects operations on finished calls and on senders outside
// the call's chat
func (s *Service) checkActive(ctx context.Context, call *domain.Call, userID uuid.UUID) error {
	if call.Status.IsTerminal() {
		return apperrors.CallTerminatedError()
	}
	return s.authorize(ctx, call.ChatID, userID)
}

func (s *Service) authorize(ctx context.Context, chatID, userID uuid.UUID) error {
	ok, err := s.membership.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to check chat membership: %w", err)
	}
	if !ok {
		return apperrors.ForbiddenError("user is not a member of this chat")
	}
	return nil
}

func (s *Service) notify(ctx context.Context, call *domain.Call, eventType domain.CallEventType, actorID uuid.UUID, targetID *uuid.UUID, previous domain.CallStatus) {
	event := domain.CallEvent{
		EventID:        uuid.New(),
		CallID:         call.CallID,
		ChatID:         call.ChatID,
		Type:           eventType,
		ActorID:        actorID,
		TargetID:       targetID,
		PreviousStatus: previous,
		Status:         call.Status,
		Version:        call.Version,
		OccurredAt:     call.UpdatedAt,
	}
	s.sink.OnCallStateChanged(ctx, call.Clone(), event)
}

func (s *Service) fail(op string, err error) error {
	code := string(apperrors.GetAppError(err).Code)
	metrics.CallOperationsTotal.WithLabelValues(op, code).Inc()
	return err
}

func markOngoing(call *domain.Call) {
	if call.Status == domain.CallStatusPending {
		call.Status = domain.CallStatusOngoing
	}
}

func observeDuration(op string, start time.Time) {
	metrics.CallOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
