// Package handler serves the relay HTTP API: cron triggers, the storefront
// webhook, pass history and housekeeping.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neese/crmsync/internal/infrastructure/logger"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
	"github.com/neese/crmsync/internal/interfaces/http/middleware"
)

// BaseHandler writes the dto.Response envelope
type BaseHandler struct {
	now func() time.Time
}

// getRequestID looks in the gin context, then the request context, then
// the inbound header
func getRequestID(c *gin.Context) string {
	for _, id := range []string{
		c.GetString(middleware.RequestIDKey),
		logger.GetRequestID(c.Request.Context()),
	} {
		if id != "" {
			return id
		}
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

func (h *BaseHandler) timestamp() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

// Success writes data with 200
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Message writes data with a message and the current time
func (h *BaseHandler) Message(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, dto.NewMessageResponse(message, data, h.timestamp()))
}

// Error writes an error envelope echoing the request id
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest writes a 400
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// HandleError records err on the gin context and answers with the status
// its relay classification maps to
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	code, message := dto.ErrorFromRelay(err)
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}
