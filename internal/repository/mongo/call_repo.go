package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"signaling-core/internal/domain"
	apperrors "signaling-core/pkg/errors"
)

const callsCollection = "calls"

// callDocument is the stored shape of a call. Negotiation legs are keyed by
// "<initiator>:<target>" and blobs are kept as raw JSON strings.
type callDocument struct {
	ID           string                 `bson:"_id"`
	ChatID       string                 `bson:"chatId"`
	CallerID     string                 `bson:"callerId"`
	Status       string                 `bson:"status"`
	StartedAt    time.Time              `bson:"startedAt"`
	EndedAt      *time.Time             `bson:"endedAt,omitempty"`
	Participants []participantDocument  `bson:"participants"`
	Negotiations map[string]legDocument `bson:"negotiations"`
	Rejections   map[string]bool        `bson:"rejections"`
	Version      int64                  `bson:"version"`
	CreatedAt    time.Time              `bson:"createdAt"`
	UpdatedAt    time.Time              `bson:"updatedAt"`
}

type participantDocument struct {
	UserID   string    `bson:"userId"`
	JoinedAt time.Time `bson:"joinedAt"`
}

type legDocument struct {
	Offer              string   `bson:"offer,omitempty"`
	OffererCandidates  []string `bson:"offererCandidates"`
	Answer             string   `bson:"answer,omitempty"`
	AnswererCandidates []string `bson:"answererCandidates"`
}

// CallRepository stores calls as single documents in MongoDB
type CallRepository struct {
	db *mongo.Database
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *mongo.Database) *CallRepository {
	return &CallRepository{db: db}
}

// EnsureIndexes creates the chat/status index used by GetActiveByChat
func (r *CallRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(callsCollection)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "status", Value: 1}, {Key: "startedAt", Value: -1}},
	})
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to create call indexes: %w", err))
	}
	return nil
}

// Create creates a new call document
func (r *CallRepository) Create(ctx context.Context, chatID, callerID uuid.UUID, startedAt time.Time) (*domain.Call, error) {
	collection := r.db.Collection(callsCollection)
	call := domain.NewCall(chatID, callerID, startedAt)

	if _, err := collection.InsertOne(ctx, toDocument(call)); err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to create call: %w", err))
	}

	return call, nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	collection := r.db.Collection(callsCollection)
	filter := bson.M{"_id": callID.String()}

	var doc callDocument
	if err := collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}

	return fromDocument(doc)
}

// Save replaces the mutable fields of a call if its version still matches
func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	collection := r.db.Collection(callsCollection)
	doc := toDocument(call)

	filter := bson.M{
		"_id":     doc.ID,
		"version": call.Version,
	}
	update := bson.M{
		"$set": bson.M{
			"status":       doc.Status,
			"endedAt":      doc.EndedAt,
			"participants": doc.Participants,
			"negotiations": doc.Negotiations,
			"rejections":   doc.Rejections,
			"updatedAt":    doc.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to save call: %w", err))
	}

	if result.MatchedCount == 0 {
		count, err := collection.CountDocuments(ctx, bson.M{"_id": doc.ID})
		if err != nil {
			return apperrors.DatabaseError(fmt.Errorf("failed to check call: %w", err))
		}
		if count == 0 {
			return apperrors.CallNotFoundError()
		}
		return apperrors.ConflictError("call was modified concurrently")
	}

	call.Version++
	return nil
}

// GetActiveByChat retrieves the most recent ongoing call of a chat
func (r *CallRepository) GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*domain.Call, error) {
	collection := r.db.Collection(callsCollection)
	filter := bson.M{
		"chatId": chatID.String(),
		"status": string(domain.CallStatusOngoing),
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})

	var doc callDocument
	if err := collection.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get active call: %w", err))
	}

	return fromDocument(doc)
}

func toDocument(call *domain.Call) callDocument {
	doc := callDocument{
		ID:           call.CallID.String(),
		ChatID:       call.ChatID.String(),
		CallerID:     call.CallerID.String(),
		Status:       string(call.Status),
		StartedAt:    call.StartedAt,
		EndedAt:      call.EndedAt,
		Participants: make([]participantDocument, 0, len(call.Participants)),
		Negotiations: make(map[string]legDocument, len(call.Negotiations)),
		Rejections:   make(map[string]bool, call.Rejections.Len()),
		Version:      call.Version,
		CreatedAt:    call.CreatedAt,
		UpdatedAt:    call.UpdatedAt,
	}

	for _, p := range call.Participants {
		doc.Participants = append(doc.Participants, participantDocument{UserID: p.UserID.String(), JoinedAt: p.JoinedAt})
	}
	for key, leg := range call.Negotiations {
		if leg == nil {
			continue
		}
		doc.Negotiations[key.String()] = legDocument{
			Offer:              string(leg.Offer),
			OffererCandidates:  blobsToStrings(leg.OffererCandidates),
			Answer:             string(leg.Answer),
			AnswererCandidates: blobsToStrings(leg.AnswererCandidates),
		}
	}
	for id := range call.Rejections {
		doc.Rejections[id.String()] = true
	}

	return doc
}

func fromDocument(doc callDocument) (*domain.Call, error) {
	call := &domain.Call{
		Status:       domain.CallStatus(doc.Status),
		StartedAt:    doc.StartedAt,
		EndedAt:      doc.EndedAt,
		Participants: make([]domain.Participant, 0, len(doc.Participants)),
		Negotiations: make(map[domain.LegKey]*domain.NegotiationLeg, len(doc.Negotiations)),
		Rejections:   make(domain.UserSet, len(doc.Rejections)),
		Version:      doc.Version,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}

	var err error
	if call.CallID, err = uuid.Parse(doc.ID); err != nil {
		return nil, fmt.Errorf("invalid call id %q: %w", doc.ID, err)
	}
	if call.ChatID, err = uuid.Parse(doc.ChatID); err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", doc.ChatID, err)
	}
	if call.CallerID, err = uuid.Parse(doc.CallerID); err != nil {
		return nil, fmt.Errorf("invalid caller id %q: %w", doc.CallerID, err)
	}

	for _, p := range doc.Participants {
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid participant id %q: %w", p.UserID, err)
		}
		call.Participants = append(call.Participants, domain.Participant{UserID: userID, JoinedAt: p.JoinedAt})
	}
	for k, leg := range doc.Negotiations {
		key, err := domain.ParseLegKey(k)
		if err != nil {
			return nil, err
		}
		call.Negotiations[key] = &domain.NegotiationLeg{
			Offer:              stringToBlob(leg.Offer),
			OffererCandidates:  stringsToBlobs(leg.OffererCandidates),
			Answer:             stringToBlob(leg.Answer),
			AnswererCandidates: stringsToBlobs(leg.AnswererCandidates),
		}
	}
	for k, v := range doc.Rejections {
		if !v {
			continue
		}
		userID, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("invalid rejection id %q: %w", k, err)
		}
		call.Rejections.Add(userID)
	}

	return call, nil
}

func blobsToStrings(blobs []json.RawMessage) []string {
	out := make([]string, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, string(b))
	}
	return out
}

func stringToBlob(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func stringsToBlobs(in []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(in))
	for _, s := range in {
		out = append(out, json.RawMessage(s))
	}
	return out
}
