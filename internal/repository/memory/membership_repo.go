package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MembershipRepository is an in-memory chat membership table
type MembershipRepository struct {
	mu    sync.RWMutex
	chats map[uuid.UUID][]uuid.UUID
}

// NewMembershipRepository creates an empty membership table
func NewMembershipRepository() *MembershipRepository {
	return &MembershipRepository{chats: make(map[uuid.UUID][]uuid.UUID)}
}

// SetMembers replaces the member list of a chat
func (r *MembershipRepository) SetMembers(chatID uuid.UUID, members ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[chatID] = append([]uuid.UUID(nil), members...)
}

// ListExpectedParticipants returns every member of the chat
func (r *MembershipRepository) ListExpectedParticipants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uuid.UUID(nil), r.chats[chatID]...), nil
}

// IsParticipant reports whether userID belongs to the chat
func (r *MembershipRepository) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.chats[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}
