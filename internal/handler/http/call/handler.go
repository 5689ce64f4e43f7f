package call

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signaling-core/internal/domain"
	"signaling-core/internal/middleware"
	"signaling-core/internal/service/call"
	"signaling-core/pkg/constants"
	"signaling-core/pkg/pagination"
	"signaling-core/pkg/response"
)

// EventLister reads the call event journal
type EventLister interface {
	ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.CallEvent, error)
}

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
	events      EventLister
}

// NewHandler creates a new call handler. events may be nil when the
// journal is disabled.
func NewHandler(callService *call.Service, events EventLister) *Handler {
	return &Handler{
		callService: callService,
		events:      events,
	}
}

// RegisterRoutes mounts the call routes on an authenticated group
func (h *Handler) RegisterRoutes(calls *gin.RouterGroup) {
	calls.POST("", h.CreateCall)
	calls.GET("/active", h.GetActiveCall)
	calls.GET("/:id", h.GetCall)
	calls.GET("/:id/events", h.ListEvents)
	calls.POST("/:id/join", h.JoinCall)
	calls.POST("/:id/leave", h.LeaveCall)
	calls.POST("/:id/reject", h.RejectCall)
	calls.POST("/:id/offer", h.SubmitOffer)
	calls.POST("/:id/answer", h.SubmitAnswer)
	calls.POST("/:id/candidate", h.SubmitCandidate)
}

// CreateCallRequest represents call creation request
type CreateCallRequest struct {
	ChatID string `json:"chat_id" binding:"required,uuid"`
}

// SignalRequest carries an offer, answer or ICE candidate
type SignalRequest struct {
	TargetID string          `json:"target_id" binding:"required,uuid"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
}

// CandidateResponse is returned by SubmitCandidate
type CandidateResponse struct {
	Call          *domain.Call `json:"call"`
	Side          string       `json:"side"`
	AnswerPresent bool         `json:"answer_present"`
}

// CreateCall starts a new call in a chat
// POST /v1/calls
func (h *Handler) CreateCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	created, err := h.callService.CreateCall(c.Request.Context(), chatID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// GetCall returns a call
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	found, err := h.callService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found)
}

// GetActiveCall returns the ongoing call of a chat
// GET /v1/calls/active?chat_id=
func (h *Handler) GetActiveCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	chatID, err := uuid.Parse(c.Query("chat_id"))
	if err != nil {
		response.ValidationError(c, "Invalid chat ID")
		return
	}

	active, err := h.callService.GetActiveCallForChat(c.Request.Context(), chatID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, active)
}

// ListEvents returns the journal of a call
// GET /v1/calls/:id/events?limit=
func (h *Handler) ListEvents(c *gin.Context) {
	if h.events == nil {
		response.NotFound(c, "Call event journal is not enabled")
		return
	}

	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	limit, err := pagination.ParseLimit(c.Query("limit"), pagination.LimitParams{
		Default: constants.DefaultEventPageSize,
		Max:     constants.MaxEventPageSize,
	})
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	// Authorizes the caller against the call's chat
	if _, err := h.callService.GetCall(c.Request.Context(), callID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	events, err := h.events.ListByCall(c.Request.Context(), callID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if events == nil {
		events = []domain.CallEvent{}
	}

	response.Success(c, http.StatusOK, gin.H{
		"call_id": callID,
		"events":  events,
	})
}

// JoinCall adds the caller to a call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	updated, err := h.callService.AddParticipant(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// LeaveCall removes the caller from a call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	updated, err := h.callService.LeaveCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// RejectCall records the caller declining a call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	updated, err := h.callService.RejectCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// SubmitOffer records an SDP offer to target_id
// POST /v1/calls/:id/offer
func (h *Handler) SubmitOffer(c *gin.Context) {
	input, ok := bindSignal(c)
	if !ok {
		return
	}

	updated, err := h.callService.HandleOffer(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// SubmitAnswer records an SDP answer to target_id's offer
// POST /v1/calls/:id/answer
func (h *Handler) SubmitAnswer(c *gin.Context) {
	input, ok := bindSignal(c)
	if !ok {
		return
	}

	updated, err := h.callService.HandleAnswer(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// SubmitCandidate records an ICE candidate for the leg shared with target_id
// POST /v1/calls/:id/candidate
func (h *Handler) SubmitCandidate(c *gin.Context) {
	input, ok := bindSignal(c)
	if !ok {
		return
	}

	out, err := h.callService.HandleCandidate(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, CandidateResponse{
		Call:          out.Call,
		Side:          string(out.Side),
		AnswerPresent: out.AnswerPresent,
	})
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	return userID, true
}

func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := requireUser(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}

func bindSignal(c *gin.Context) (*call.SignalInput, bool) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return nil, false
	}

	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return nil, false
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		response.ValidationError(c, "Invalid target ID")
		return nil, false
	}

	return &call.SignalInput{
		CallID:   callID,
		SenderID: userID,
		TargetID: targetID,
		Payload:  req.Payload,
	}, true
}
