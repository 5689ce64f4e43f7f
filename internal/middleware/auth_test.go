package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signaling-core/pkg/jwt"
)

const testSecret = "middleware-test-secret-at-least-32-chars"

// MockRevocationChecker is a mock implementation of RevocationChecker
type MockRevocationChecker struct {
	mock.Mock
}

func (m *MockRevocationChecker) IsTokenRevoked(ctx context.Context, claims *jwt.Claims) (bool, error) {
	args := m.Called(ctx, claims)
	return args.Bool(0), args.Error(1)
}

func newAuthRouter(manager *jwt.JWTManager, checker RevocationChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(manager, checker), func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "username": c.GetString(ContextUsername)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, time.Minute, "auth-service", "signaling-api")
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	other := jwt.NewJWTManager("another-secret-that-is-long-enough!!", time.Minute, "auth-service", "signaling-api")
	forged, err := other.GenerateAccessToken(userID, "mallory")
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"bearer header", "/me", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK},
		{"missing header", "/me", nil, http.StatusUnauthorized},
		{"wrong scheme", "/me", map[string]string{"Authorization": "Basic " + token}, http.StatusUnauthorized},
		{"forged token", "/me", map[string]string{"Authorization": "Bearer " + forged}, http.StatusUnauthorized},
		{"query token on upgrade", "/me?token=" + token, map[string]string{"Upgrade": "websocket"}, http.StatusOK},
		{"query token without upgrade", "/me?token=" + token, nil, http.StatusUnauthorized},
	}

	router := newAuthRouter(manager, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				var body struct {
					UserID   uuid.UUID `json:"user_id"`
					Username string    `json:"username"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, userID, body.UserID)
				assert.Equal(t, "alice", body.Username)
			}
		})
	}
}

func TestAuthMiddleware_Revocation(t *testing.T) {
	manager := jwt.NewJWTManager(testSecret, time.Minute, "auth-service", "signaling-api")
	token, err := manager.GenerateAccessToken(uuid.New(), "bob")
	require.NoError(t, err)

	tests := []struct {
		name    string
		revoked bool
		err     error
		status  int
	}{
		{"not revoked", false, nil, http.StatusOK},
		{"revoked", true, nil, http.StatusUnauthorized},
		{"checker down fails open", false, errors.New("redis unavailable"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &MockRevocationChecker{}
			checker.On("IsTokenRevoked", mock.Anything, mock.AnythingOfType("*jwt.Claims")).Return(tt.revoked, tt.err).Once()

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			newAuthRouter(manager, checker).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			checker.AssertExpectations(t)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		deps   map[string]string
		status int
		state  string
	}{
		{"all healthy", map[string]string{"store": "ok", "redis": "ok"}, http.StatusOK, "healthy"},
		{"redis down", map[string]string{"store": "ok", "redis": "error"}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(HealthCheck("signaling-service", func(*gin.Context) map[string]string { return tt.deps }))
			router.GET("/other", func(c *gin.Context) { c.Status(http.StatusTeapot) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body["status"])
			assert.Equal(t, "signaling-service", body["service"])

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))
			assert.Equal(t, http.StatusTeapot, w.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Body.String())
}

func TestRevocationKeys(t *testing.T) {
	userID := uuid.New()

	claims := &jwt.Claims{UserID: userID}
	claims.ID = "jti-1"
	assert.Equal(t, []string{"blacklist:jti-1", "blacklist:user:" + userID.String()}, revocationKeys(claims))

	assert.Equal(t, []string{"blacklist:user:" + userID.String()}, revocationKeys(&jwt.Claims{UserID: userID}))
	assert.Empty(t, revocationKeys(&jwt.Claims{}))
}

func TestRedisRevocationChecker_NoKeysSkipsRedis(t *testing.T) {
	checker := NewRedisRevocationChecker(nil)
	revoked, err := checker.IsTokenRevoked(context.Background(), &jwt.Claims{})
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/v1/calls/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls/x", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
