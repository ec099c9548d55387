package response

import (
	"net/http"

	"codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody is the body of every error response.
// Error repeats Message for clients that only look at an "error" field.
type ErrorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Error   string           `json:"error"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// JSON writes body as-is with status 200.
func JSON(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}

// Text writes a plain-text 200 response.
func Text(c *gin.Context, text string) {
	c.String(http.StatusOK, text)
}

// Error sends an error response derived from err's code.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)
	status := customErr.Code.HTTPStatus()
	logError(c, status,
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
		zap.String("stack", customErr.Stack),
	)

	var details interface{}
	if len(customErr.Details) > 0 {
		details = customErr.Details
	}
	c.JSON(status, ErrorBody{
		Code:    customErr.Code,
		Message: customErr.Error(),
		Error:   customErr.Error(),
		Details: details,
		TraceID: getTraceID(c),
	})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	status := code.HTTPStatus()
	logError(c, status, zap.Int("code", int(code)), zap.String("message", message))

	c.JSON(status, ErrorBody{
		Code:    code,
		Message: message,
		Error:   message,
		TraceID: getTraceID(c),
	})
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

// NotFound sends a 404 not found error
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, errors.NotFound, message)
}

// InternalServerError sends a 500 internal server error
func InternalServerError(c *gin.Context, err error) {
	Error(c, errors.InternalError(err))
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func logError(c *gin.Context, status int, fields ...zap.Field) {
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request error", fields...)
		return
	}
	logger.Warn(c.Request.Context(), "request rejected", fields...)
}

func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}
