package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/logger"
)

// ErrorHandler converts errors attached to the gin context into the standard
// JSON error envelope. Unexpected errors are logged and reported as a generic
// internal error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		log := logger.Get().With("request_id", c.GetString(requestIDKey), "path", c.Request.URL.Path)

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			if appErr.Internal != nil {
				log.Errorw("app error", "code", appErr.Code, "internal", appErr.Internal.Error())
			}
			abortWithError(c, appErr)
			return
		}

		log.Errorw("unexpected error", "error", err.Error(), "method", c.Request.Method)
		abortWithError(c, apperrors.ErrInternalServer)
	}
}
