package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	apperrors "signaling-core/pkg/errors"
)

type chatParticipantDocument struct {
	ChatID   string `bson:"chatId"`
	UserID   string `bson:"userId"`
	IsActive bool   `bson:"isActive"`
}

// ChatMembershipRepository reads the chat_participants collection
type ChatMembershipRepository struct {
	db *mongo.Database
}

// NewChatMembershipRepository creates a new membership repository
func NewChatMembershipRepository(db *mongo.Database) *ChatMembershipRepository {
	return &ChatMembershipRepository{db: db}
}

// ListExpectedParticipants returns every active member of a chat
func (r *ChatMembershipRepository) ListExpectedParticipants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	collection := r.db.Collection("chat_participants")
	filter := bson.M{
		"chatId":   chatID.String(),
		"isActive": true,
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to list chat participants: %w", err))
	}

	var docs []chatParticipantDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to decode chat participants: %w", err))
	}

	userIDs := make([]uuid.UUID, 0, len(docs))
	for _, doc := range docs {
		userID, err := uuid.Parse(doc.UserID)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("invalid participant id %q: %w", doc.UserID, err))
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// IsParticipant checks if a user is an active member of a chat
func (r *ChatMembershipRepository) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	collection := r.db.Collection("chat_participants")
	filter := bson.M{
		"chatId":   chatID.String(),
		"userId":   userID.String(),
		"isActive": true,
	}

	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to check chat participant: %w", err))
	}

	return count > 0, nil
}
