package call

import (
	"context"
	"time"

	"github.com/google/uuid"

	"signaling-core/internal/domain"
)

// CallRepository is the Session Store contract. Save is a compare-and-swap
// on Call.Version: it fails with a CONFLICT AppError when the stored
// version moved since the call was read, and bumps call.Version on success.
type CallRepository interface {
	Create(ctx context.Context, chatID, callerID uuid.UUID, startedAt time.Time) (*domain.Call, error)
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Save(ctx context.Context, call *domain.Call) error
	GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*domain.Call, error)
}

// MembershipOracle answers who belongs to a chat
type MembershipOracle interface {
	ListExpectedParticipants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// NotificationSink receives every successfully persisted call mutation.
// Implementations own their delivery failures and must not block for long.
type NotificationSink interface {
	OnCallStateChanged(ctx context.Context, call *domain.Call, event domain.CallEvent)
}

// NopSink discards notifications
type NopSink struct{}

// OnCallStateChanged implements NotificationSink
func (NopSink) OnCallStateChanged(context.Context, *domain.Call, domain.CallEvent) {}

// MultiSink fans a notification out to several sinks in order
type MultiSink []NotificationSink

// OnCallStateChanged implements NotificationSink
func (m MultiSink) OnCallStateChanged(ctx context.Context, call *domain.Call, event domain.CallEvent) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		sink.OnCallStateChanged(ctx, call.Clone(), event)
	}
}
