package cassandra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signaling-core/internal/domain"
	"signaling-core/pkg/resilience"
)

// MockEventAppender is a mock implementation of EventAppender
type MockEventAppender struct {
	mock.Mock
}

func (m *MockEventAppender) Append(ctx context.Context, event domain.CallEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestCallJournal_Appends(t *testing.T) {
	repo := &MockEventAppender{}
	journal := NewCallJournal(repo)

	call := domain.NewCall(uuid.New(), uuid.New(), time.Now().UTC())
	event := domain.CallEvent{EventID: uuid.New(), CallID: call.CallID, Type: domain.CallEventCreated}
	repo.On("Append", mock.Anything, event).Return(nil).Once()

	// a cancelled request still journals
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	journal.OnCallStateChanged(ctx, call, event)

	repo.AssertExpectations(t)
}

func TestCallJournal_StopsCallingFailingCluster(t *testing.T) {
	repo := &MockEventAppender{}
	journal := NewCallJournal(repo)

	call := domain.NewCall(uuid.New(), uuid.New(), time.Now().UTC())
	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("no hosts available")).
		Times(resilience.DefaultFailureThreshold)

	for i := 0; i < resilience.DefaultFailureThreshold+2; i++ {
		journal.OnCallStateChanged(context.Background(), call, domain.CallEvent{Type: domain.CallEventOffer})
	}

	repo.AssertExpectations(t)
	assert.Equal(t, resilience.CircuitBreakerOpen, journal.breaker.State())
}

func normalizeCQL(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func TestCallEventsTable_ClusteredByVersion(t *testing.T) {
	ddl := normalizeCQL(CallEventsTable)

	assert.Contains(t, ddl, "PRIMARY KEY ((call_id), version)")
	assert.Contains(t, ddl, "CLUSTERING ORDER BY (version ASC)")
	assert.NotContains(t, ddl, "(call_id), occurred_at")
}

func TestCallEventQueries_OrderAndColumns(t *testing.T) {
	sel := normalizeCQL(selectCallEvents)
	assert.Contains(t, sel, "ORDER BY version ASC")

	columns := func(q, pattern string) []string {
		m := regexp.MustCompile(pattern).FindStringSubmatch(normalizeCQL(q))
		require.Len(t, m, 2)
		var cols []string
		for _, c := range strings.Split(m[1], ",") {
			cols = append(cols, strings.TrimSpace(c))
		}
		return cols
	}

	inserted := columns(insertCallEvent, `INSERT INTO call_events \((.*?)\) VALUES`)
	selected := columns(selectCallEvents, `SELECT (.*?) FROM call_events`)
	assert.Equal(t, inserted, selected)
	assert.Equal(t, []string{"call_id", "version"}, inserted[:2])
	assert.Equal(t, strings.Count(insertCallEvent, "?"), len(inserted))
}
