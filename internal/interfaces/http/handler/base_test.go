package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
	"github.com/neese/crmsync/internal/interfaces/http/middleware"
	"github.com/neese/crmsync/tests/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

func newTestContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	tc := testutil.NewTestContext(method, target)
	return tc.Context, tc.Recorder
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name: "from gin context",
			setup: func(c *gin.Context) {
				c.Set(middleware.RequestIDKey, "ctx-request-id")
			},
			expectedID: "ctx-request-id",
		},
		{
			name: "from header when context empty",
			setup: func(c *gin.Context) {
				c.Request.Header.Set(middleware.RequestIDHeader, "header-request-id")
			},
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
		{
			name: "context takes precedence over header",
			setup: func(c *gin.Context) {
				c.Set(middleware.RequestIDKey, "ctx-id")
				c.Request.Header.Set(middleware.RequestIDHeader, "header-id")
			},
			expectedID: "ctx-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, "/")
			tt.setup(c)
			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestBaseHandlerMessage(t *testing.T) {
	h := &BaseHandler{now: func() time.Time { return fixedNow }}
	c, w := newTestContext(http.MethodGet, "/")

	h.Message(c, "Sincronização executada", gin.H{"events_found": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := testutil.DecodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Sincronização executada", resp.Message)
	assert.Equal(t, "2025-06-01T15:00:00.000Z", resp.Timestamp)
}

func TestBaseHandlerHandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		hideText bool
	}{
		{name: "sync in progress", err: relay.ErrSyncInProgress, status: http.StatusConflict, code: dto.ErrCodeSyncInProgress},
		{name: "wrapped invalid window", err: fmt.Errorf("compute window: %w", relay.ErrInvalidWindow), status: http.StatusUnprocessableEntity, code: dto.ErrCodeInvalidWindow},
		{name: "source unavailable", err: relay.ErrSourceFetchFailed, status: http.StatusBadGateway, code: dto.ErrCodeUnavailable},
		{name: "unknown error", err: errors.New("pq: password authentication failed"), status: http.StatusInternalServerError, code: dto.ErrCodeInternal, hideText: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			c, w := newTestContext(http.MethodPost, "/")
			c.Set(middleware.RequestIDKey, "req-42")

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := testutil.DecodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "req-42", resp.Error.RequestID)
			if tt.hideText {
				assert.NotContains(t, resp.Error.Message, "password")
			}
			assert.Len(t, c.Errors, 1, "error is attached for the access log")
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		h := &BaseHandler{}
		c, w := newTestContext(http.MethodGet, "/")
		h.HandleError(c, nil)
		assert.Zero(t, w.Body.Len())
	})
}

func TestBaseHandlerBadRequest(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext(http.MethodGet, "/")

	h.BadRequest(c, "limit must be a positive integer")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.DecodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
}
