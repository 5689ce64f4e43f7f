package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"signaling-core/internal/domain"
	apperrors "signaling-core/pkg/errors"
)

// CallRepository keeps calls in process memory. Every read returns a deep
// copy and every write stores one, so callers never share state.
type CallRepository struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]*domain.Call
}

// NewCallRepository creates an empty in-memory call store
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[uuid.UUID]*domain.Call),
	}
}

// Create stores a new pending call started at startedAt
func (r *CallRepository) Create(ctx context.Context, chatID, callerID uuid.UUID, startedAt time.Time) (*domain.Call, error) {
	call := domain.NewCall(chatID, callerID, startedAt)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.CallID] = call.Clone()

	return call, nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return call.Clone(), nil
}

// Save replaces the stored call if its version still matches
func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[call.CallID]
	if !ok {
		return apperrors.CallNotFoundError()
	}
	if stored.Version != call.Version {
		return apperrors.ConflictError("call was modified concurrently")
	}

	call.Version++
	r.calls[call.CallID] = call.Clone()
	return nil
}

// GetActiveByChat returns the most recently started ongoing call of a chat
func (r *CallRepository) GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active *domain.Call
	for _, call := range r.calls {
		if call.ChatID != chatID || call.Status != domain.CallStatusOngoing {
			continue
		}
		if active == nil || call.StartedAt.After(active.StartedAt) {
			active = call
		}
	}
	if active == nil {
		return nil, apperrors.CallNotFoundError()
	}
	return active.Clone(), nil
}

// Len returns the number of stored calls
func (r *CallRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
