package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neese/crmsync/internal/interfaces/http/dto"
)

// CronSecretHeader carries the shared secret of scheduler calls
const CronSecretHeader = "X-Cron-Secret"

// CronSecret guards operational endpoints with a shared secret. The secret is
// read from X-Cron-Secret or from an "Authorization: Bearer" header, the form
// hosted cron schedulers send. An empty secret disables the check.
func CronSecret(secret string) gin.HandlerFunc {
	if secret == "" {
		return noopMiddleware
	}
	expected := []byte(secret)

	return func(c *gin.Context) {
		provided := c.GetHeader(CronSecretHeader)
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized,
				"Invalid or missing cron secret",
				c.GetString(RequestIDKey),
			))
			return
		}
		c.Next()
	}
}
