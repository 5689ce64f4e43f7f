package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signaling-core/internal/domain"
	"signaling-core/internal/middleware"
	"signaling-core/internal/repository/memory"
	"signaling-core/internal/service/call"
)

const testUserHeader = "X-Test-User"

// MockEventLister is a mock implementation of EventLister
type MockEventLister struct {
	mock.Mock
}

func (m *MockEventLister) ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.CallEvent, error) {
	args := m.Called(ctx, callID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CallEvent), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	router     *gin.Engine
	membership *memory.MembershipRepository
	chatID     uuid.UUID
	u1, u2, u3 uuid.UUID
}

func newTestServer(t *testing.T, events EventLister) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{
		membership: memory.NewMembershipRepository(),
		chatID:     uuid.New(),
		u1:         uuid.New(),
		u2:         uuid.New(),
		u3:         uuid.New(),
	}
	s.membership.SetMembers(s.chatID, s.u1, s.u2, s.u3)

	svc := call.NewService(memory.NewCallRepository(), s.membership, nil)
	handler := NewHandler(svc, events)

	s.router = gin.New()
	group := s.router.Group("/v1/calls")
	group.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader(testUserHeader)); err == nil {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	})
	handler.RegisterRoutes(group)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set(testUserHeader, userID.String())
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) createCall(t *testing.T) *domain.Call {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/calls", s.u1, CreateCallRequest{ChatID: s.chatID.String()})
	require.Equal(t, http.StatusCreated, code)
	var created domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return &created
}

func signalBody(target uuid.UUID, payload string) map[string]any {
	return map[string]any{"target_id": target.String(), "payload": json.RawMessage(payload)}
}

func TestHandler_CreateCall(t *testing.T) {
	s := newTestServer(t, nil)

	created := s.createCall(t)
	assert.Equal(t, domain.CallStatusPending, created.Status)
	assert.Equal(t, s.u1, created.CallerID)

	t.Run("unauthenticated", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/v1/calls", uuid.Nil, CreateCallRequest{ChatID: s.chatID.String()})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	})

	t.Run("invalid chat id", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/v1/calls", s.u1, CreateCallRequest{ChatID: "nope"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	})

	t.Run("not a member", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/v1/calls", uuid.New(), CreateCallRequest{ChatID: s.chatID.String()})
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})
}

func TestHandler_SignalingFlow(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createCall(t)
	base := "/v1/calls/" + created.CallID.String()

	code, env := s.do(t, http.MethodPost, base+"/answer", s.u2, signalBody(s.u1, `{"sdp":"a"}`))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NO_MATCHING_OFFER", env.Error.Code)

	code, env = s.do(t, http.MethodPost, base+"/offer", s.u1, signalBody(s.u2, `{"sdp":"o"}`))
	require.Equal(t, http.StatusOK, code)
	var updated domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, domain.CallStatusOngoing, updated.Status)

	code, env = s.do(t, http.MethodPost, base+"/offer", s.u1, signalBody(s.u2, `{"sdp":"o2"}`))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DUPLICATE_OFFER", env.Error.Code)

	code, env = s.do(t, http.MethodPost, base+"/candidate", s.u2, signalBody(s.u1, `{"candidate":"c"}`))
	require.Equal(t, http.StatusOK, code)
	var cand struct {
		Side          string `json:"side"`
		AnswerPresent bool   `json:"answer_present"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cand))
	assert.Equal(t, "answerer", cand.Side)
	assert.False(t, cand.AnswerPresent)

	code, _ = s.do(t, http.MethodPost, base+"/answer", s.u2, signalBody(s.u1, `{"sdp":"a"}`))
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/v1/calls/active?chat_id="+s.chatID.String(), s.u3, nil)
	require.Equal(t, http.StatusOK, code)
	var active domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &active))
	assert.Equal(t, created.CallID, active.CallID)

	code, env = s.do(t, http.MethodPost, base+"/leave", s.u1, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, domain.CallStatusEnded, updated.Status)

	code, env = s.do(t, http.MethodPost, base+"/join", s.u3, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "CALL_TERMINATED", env.Error.Code)
}

func TestHandler_SignalValidation(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createCall(t)
	base := "/v1/calls/" + created.CallID.String()

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad call id", "/v1/calls/xyz/offer", signalBody(s.u2, `{}`), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing target", base + "/offer", map[string]any{"payload": json.RawMessage(`{}`)}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing payload", base + "/offer", map[string]any{"target_id": s.u2.String()}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"self target", base + "/offer", signalBody(s.u1, `{}`), http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown call", "/v1/calls/" + uuid.NewString() + "/offer", signalBody(s.u2, `{}`), http.StatusNotFound, "CALL_NOT_FOUND"},
		{"candidate without leg", base + "/candidate", signalBody(s.u2, `{}`), http.StatusConflict, "NO_NEGOTIATION_CONTEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, http.MethodPost, tt.path, s.u1, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestHandler_RejectCall(t *testing.T) {
	s := newTestServer(t, nil)
	created := s.createCall(t)
	base := "/v1/calls/" + created.CallID.String()

	code, _ := s.do(t, http.MethodPost, base+"/reject", s.u2, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, base+"/reject", s.u3, nil)
	require.Equal(t, http.StatusOK, code)
	var rejected domain.Call
	require.NoError(t, json.Unmarshal(env.Data, &rejected))
	assert.Equal(t, domain.CallStatusRejected, rejected.Status)

	code, _ = s.do(t, http.MethodPost, base+"/reject", s.u3, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, base, uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestHandler_ListEvents(t *testing.T) {
	t.Run("journal disabled", func(t *testing.T) {
		s := newTestServer(t, nil)
		created := s.createCall(t)

		code, env := s.do(t, http.MethodGet, "/v1/calls/"+created.CallID.String()+"/events", s.u1, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", env.Error.Code)
	})

	t.Run("lists journal", func(t *testing.T) {
		events := &MockEventLister{}
		s := newTestServer(t, events)
		created := s.createCall(t)

		journal := []domain.CallEvent{{EventID: uuid.New(), CallID: created.CallID, Type: domain.CallEventCreated}}
		events.On("ListByCall", mock.Anything, created.CallID, 20).Return(journal, nil)

		code, env := s.do(t, http.MethodGet, "/v1/calls/"+created.CallID.String()+"/events?limit=20", s.u2, nil)
		require.Equal(t, http.StatusOK, code)

		var body struct {
			CallID uuid.UUID          `json:"call_id"`
			Events []domain.CallEvent `json:"events"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &body))
		assert.Equal(t, created.CallID, body.CallID)
		require.Len(t, body.Events, 1)
		assert.Equal(t, domain.CallEventCreated, body.Events[0].Type)
		events.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		s := newTestServer(t, &MockEventLister{})
		created := s.createCall(t)

		code, _ := s.do(t, http.MethodGet, "/v1/calls/"+created.CallID.String()+"/events?limit=0", s.u1, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("journal failure", func(t *testing.T) {
		events := &MockEventLister{}
		s := newTestServer(t, events)
		created := s.createCall(t)
		events.On("ListByCall", mock.Anything, created.CallID, 100).Return(nil, errors.New("cassandra unavailable"))

		code, env := s.do(t, http.MethodGet, "/v1/calls/"+created.CallID.String()+"/events", s.u1, nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
		assert.NotContains(t, env.Error.Message, "cassandra")
	})
}
