package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signaling-core/internal/domain"
	apperrors "signaling-core/pkg/errors"
)

// CallRepository handles call data operations.
// Nested call state (participants, negotiation legs, rejections) is stored
// as JSONB columns and written as a unit; version guards concurrent writes.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `
	call_id, chat_id, caller_id, status, started_at, ended_at,
	participants, negotiations, rejections, version, created_at, updated_at
`

// Create creates a new call record
func (r *CallRepository) Create(ctx context.Context, chatID, callerID uuid.UUID, startedAt time.Time) (*domain.Call, error) {
	call := domain.NewCall(chatID, callerID, startedAt)

	participants, negotiations, rejections, err := encodeCallState(call)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO calls (` + callColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		call.CallID,
		call.ChatID,
		call.CallerID,
		string(call.Status),
		call.StartedAt,
		call.EndedAt,
		participants,
		negotiations,
		rejections,
		call.Version,
		call.CreatedAt,
		call.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to create call: %w", err))
	}

	return call, nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}

	return call, nil
}

// Save writes the whole call if the stored version still matches
func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	participants, negotiations, rejections, err := encodeCallState(call)
	if err != nil {
		return err
	}

	query := `
		UPDATE calls
		SET status = $3,
		    ended_at = $4,
		    participants = $5,
		    negotiations = $6,
		    rejections = $7,
		    updated_at = $8,
		    version = version + 1
		WHERE call_id = $1 AND version = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.Version,
		string(call.Status),
		call.EndedAt,
		participants,
		negotiations,
		rejections,
		call.UpdatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to save call: %w", err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE call_id = $1)`, call.CallID).Scan(&exists)
		if err != nil {
			return apperrors.DatabaseError(fmt.Errorf("failed to check call: %w", err))
		}
		if !exists {
			return apperrors.CallNotFoundError()
		}
		return apperrors.ConflictError("call was modified concurrently")
	}

	call.Version++
	return nil
}

// GetActiveByChat retrieves the most recent ongoing call of a chat
func (r *CallRepository) GetActiveByChat(ctx context.Context, chatID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE chat_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, chatID, string(domain.CallStatusOngoing)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get active call: %w", err))
	}

	return call, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	var status string
	var participants, negotiations, rejections []byte

	err := row.Scan(
		&call.CallID,
		&call.ChatID,
		&call.CallerID,
		&status,
		&call.StartedAt,
		&call.EndedAt,
		&participants,
		&negotiations,
		&rejections,
		&call.Version,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	call.Status = domain.CallStatus(status)
	if err := decodeCallState(call, participants, negotiations, rejections); err != nil {
		return nil, err
	}
	return call, nil
}

func encodeCallState(call *domain.Call) (participants, negotiations, rejections []byte, err error) {
	if participants, err = json.Marshal(call.Participants); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode participants: %w", err)
	}
	if negotiations, err = json.Marshal(call.Negotiations); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode negotiations: %w", err)
	}
	if rejections, err = json.Marshal(call.Rejections); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode rejections: %w", err)
	}
	return participants, negotiations, rejections, nil
}

func decodeCallState(call *domain.Call, participants, negotiations, rejections []byte) error {
	call.Participants = []domain.Participant{}
	call.Negotiations = make(map[domain.LegKey]*domain.NegotiationLeg)
	call.Rejections = make(domain.UserSet)

	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &call.Participants); err != nil {
			return fmt.Errorf("failed to decode participants: %w", err)
		}
	}
	if len(negotiations) > 0 {
		if err := json.Unmarshal(negotiations, &call.Negotiations); err != nil {
			return fmt.Errorf("failed to decode negotiations: %w", err)
		}
	}
	if len(rejections) > 0 {
		if err := json.Unmarshal(rejections, &call.Rejections); err != nil {
			return fmt.Errorf("failed to decode rejections: %w", err)
		}
	}
	return nil
}
