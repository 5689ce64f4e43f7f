package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "signaling-core/pkg/errors"
	"signaling-core/pkg/logger"
)

// Response is the envelope every HTTP endpoint answers with
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail carries an AppError to the client
type ErrorDetail struct {
	Code    string      `json:"code"` // e.g. "DUPLICATE_OFFER"
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Success sends data with statusCode
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta(c)})
}

// FromError maps err to its HTTP status and code. Errors that are not
// AppErrors are logged and answered with a generic 500 so driver messages
// never reach the client.
func FromError(c *gin.Context, err error) {
	if !apperrors.IsAppError(err) {
		logger.FromContext(c.Request.Context()).Error("Unhandled error", zap.Error(err))
		write(c, apperrors.InternalError("internal server error"))
		return
	}

	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode == 0 || appErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			zap.String("code", string(appErr.Code)),
			zap.Error(appErr))
	}
	write(c, appErr)
}

// ValidationError answers 400 for a malformed request
func ValidationError(c *gin.Context, message string) {
	write(c, apperrors.ValidationError(message))
}

// Unauthorized answers 401
func Unauthorized(c *gin.Context, message string) {
	write(c, apperrors.UnauthorizedError(message))
}

// NotFound answers 404 for a missing resource
func NotFound(c *gin.Context, message string) {
	write(c, apperrors.NewWithStatus(apperrors.ErrCodeNotFound, message, http.StatusNotFound))
}

// InternalError answers 500
func InternalError(c *gin.Context, message string) {
	write(c, apperrors.InternalError(message))
}

func write(c *gin.Context, appErr *apperrors.AppError) {
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		},
		Meta: meta(c),
	})
}

func meta(c *gin.Context) Meta {
	m := Meta{Timestamp: time.Now().UTC()}
	if id, ok := c.Get("request_id"); ok {
		m.RequestID, _ = id.(string)
	}
	return m
}
