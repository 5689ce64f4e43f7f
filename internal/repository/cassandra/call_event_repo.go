package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"signaling-core/internal/domain"
	appctx "signaling-core/pkg/context"
	"signaling-core/pkg/database"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
	"signaling-core/pkg/resilience"
)

// CallEventsTable is the journal table. PRIMARY KEY ((call_id), version):
// one partition per call, clustered by the version the event was saved at.
// Every journaled event follows a successful compare-and-swap, so version is
// unique and strictly increasing within a call even when two events share a
// millisecond.
const CallEventsTable = `
	CREATE TABLE IF NOT EXISTS call_events (
		call_id uuid,
		version bigint,
		occurred_at timestamp,
		event_id uuid,
		chat_id uuid,
		type text,
		actor_id uuid,
		target_id uuid,
		previous_status text,
		status text,
		PRIMARY KEY ((call_id), version)
	) WITH CLUSTERING ORDER BY (version ASC)
`

const (
	insertCallEvent = `
		INSERT INTO call_events (
			call_id, version, occurred_at, event_id, chat_id, type,
			actor_id, target_id, previous_status, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectCallEvents = `
		SELECT call_id, version, occurred_at, event_id, chat_id, type,
		       actor_id, target_id, previous_status, status
		FROM call_events
		WHERE call_id = ?
		ORDER BY version ASC
		LIMIT ?
	`
)

// CallEventRepository journals call state changes in Cassandra, keyed as
// described on CallEventsTable so a call's history reads back in save order.
type CallEventRepository struct {
	db *database.CassandraDB
}

// NewCallEventRepository creates a new CallEventRepository
func NewCallEventRepository(db *database.CassandraDB) *CallEventRepository {
	return &CallEventRepository{db: db}
}

// EnsureSchema creates the journal table when it is missing
func (r *CallEventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.ExecWithContext(ctx, CallEventsTable); err != nil {
		return fmt.Errorf("failed to create call_events table: %w", err)
	}
	return nil
}

// Append inserts one event
func (r *CallEventRepository) Append(ctx context.Context, event domain.CallEvent) error {
	start := time.Now()
	defer func() {
		metrics.CassandraQueryDuration.WithLabelValues("insert", "call_events").Observe(time.Since(start).Seconds())
	}()

	var targetID interface{}
	if event.TargetID != nil {
		targetID = gocql.UUID(*event.TargetID)
	}

	err := r.db.ExecWithContext(ctx, insertCallEvent,
		gocql.UUID(event.CallID),
		event.Version,
		event.OccurredAt,
		gocql.UUID(event.EventID),
		gocql.UUID(event.ChatID),
		string(event.Type),
		gocql.UUID(event.ActorID),
		targetID,
		string(event.PreviousStatus),
		string(event.Status),
	)
	if err != nil {
		metrics.CassandraWriteErrorTotal.WithLabelValues("call_events").Inc()
		return fmt.Errorf("failed to append call event: %w", err)
	}

	return nil
}

// ListByCall returns the journal of a call, oldest first
func (r *CallEventRepository) ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.CallEvent, error) {
	start := time.Now()
	defer func() {
		metrics.CassandraQueryDuration.WithLabelValues("select", "call_events").Observe(time.Since(start).Seconds())
	}()

	iter := r.db.QueryWithContext(ctx, selectCallEvents, gocql.UUID(callID), limit).Iter()

	var events []domain.CallEvent
	var (
		rowCallID, eventID, chatID, actorID gocql.UUID
		targetID                            *gocql.UUID
		occurredAt                          time.Time
		eventType, prevStatus, status       string
		version                             int64
	)
	for iter.Scan(&rowCallID, &version, &occurredAt, &eventID, &chatID, &eventType,
		&actorID, &targetID, &prevStatus, &status) {
		event := domain.CallEvent{
			EventID:        uuid.UUID(eventID),
			CallID:         uuid.UUID(rowCallID),
			ChatID:         uuid.UUID(chatID),
			Type:           domain.CallEventType(eventType),
			ActorID:        uuid.UUID(actorID),
			PreviousStatus: domain.CallStatus(prevStatus),
			Status:         domain.CallStatus(status),
			Version:        version,
			OccurredAt:     occurredAt,
		}
		if targetID != nil {
			id := uuid.UUID(*targetID)
			event.TargetID = &id
		}
		events = append(events, event)
		targetID = nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list call events: %w", err)
	}

	return events, nil
}

// EventAppender writes one journal entry
type EventAppender interface {
	Append(ctx context.Context, event domain.CallEvent) error
}

// CallJournal adapts the repository to the notification sink contract.
// Writes go through a circuit breaker so that an unreachable cluster costs
// one timeout per cooldown instead of one per call mutation.
type CallJournal struct {
	repo    EventAppender
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewCallJournal creates a sink that appends every event to repo
func NewCallJournal(repo EventAppender) *CallJournal {
	return &CallJournal{
		repo:    repo,
		breaker: resilience.NewCircuitBreaker("cassandra_call_journal", resilience.DefaultFailureThreshold, resilience.DefaultCooldown),
		timeout: database.DefaultCassandraQueryTimeout,
	}
}

// OnCallStateChanged appends the event; failures are logged and counted
func (j *CallJournal) OnCallStateChanged(ctx context.Context, call *domain.Call, event domain.CallEvent) {
	writeCtx, cancel := appctx.Detached(ctx, j.timeout)
	defer cancel()

	err := j.breaker.Execute(func() error {
		return j.repo.Append(writeCtx, event)
	})
	switch {
	case err == nil:
		metrics.CallNotificationsTotal.WithLabelValues("cassandra", "ok").Inc()
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.CallNotificationsTotal.WithLabelValues("cassandra", "skipped").Inc()
	default:
		metrics.CallNotificationsTotal.WithLabelValues("cassandra", "error").Inc()
		logger.FromContext(ctx).Warn("Failed to journal call event",
			zap.String("call_id", call.CallID.String()),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}
