package dto

import (
	"errors"
	"net/http"

	"github.com/neese/crmsync/internal/domain/relay"
)

// Error codes carried in ErrorInfo.Code
const (
	ErrCodeUnknown     = "ERR_UNKNOWN"
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UPSTREAM_UNAVAILABLE"

	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeNotFound        = "ERR_NOT_FOUND"

	// ErrCodeUnauthorized means the cron secret is missing or wrong
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"

	// ErrCodeSyncInProgress means another pass holds the pass lock
	ErrCodeSyncInProgress = "ERR_SYNC_IN_PROGRESS"
	// ErrCodeInvalidWindow means the window policy produced an empty window
	ErrCodeInvalidWindow = "ERR_INVALID_WINDOW"
	// ErrCodeSyncFailed means a pass ran but failed as a whole
	ErrCodeSyncFailed = "ERR_SYNC_FAILED"
)

var statusByCode = map[string]int{
	ErrCodeUnavailable:     http.StatusBadGateway,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeSyncInProgress:  http.StatusConflict,
	ErrCodeInvalidWindow:   http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the status of code; codes without an entry are 500
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// relayErrors maps relay failures to a code and a public message. An empty
// message means the error text itself is safe to return.
var relayErrors = []struct {
	targets []error
	code    string
	message string
}{
	{[]error{relay.ErrSyncInProgress}, ErrCodeSyncInProgress, "Another sync pass is already running"},
	{[]error{relay.ErrInvalidWindow, relay.ErrInvalidWindowPolicy}, ErrCodeInvalidWindow, ""},
	{[]error{relay.ErrSourceUnavailable, relay.ErrSourceFetchFailed}, ErrCodeUnavailable, "Storefront API unavailable"},
}

// ErrorFromRelay classifies err. Unrecognised errors become ErrCodeInternal
// with a generic message so internal details stay private.
func ErrorFromRelay(err error) (code, message string) {
	for _, e := range relayErrors {
		for _, target := range e.targets {
			if !errors.Is(err, target) {
				continue
			}
			if e.message == "" {
				return e.code, err.Error()
			}
			return e.code, e.message
		}
	}
	return ErrCodeInternal, "An unexpected error occurred"
}
