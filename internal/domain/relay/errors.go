package relay

import "errors"

// Source errors
var (
	ErrSourceUnavailable     = errors.New("relay: source platform unavailable")
	ErrSourceRequestFailed   = errors.New("relay: source request failed")
	ErrSourceInvalidResponse = errors.New("relay: invalid source response")
	ErrSourceFetchFailed     = errors.New("relay: cart and order fetch both failed")
	// ErrSourceTruncated comes back together with the records read before
	// the page limit stopped a list call
	ErrSourceTruncated = errors.New("relay: source listing truncated")
)

// Delivery errors
var (
	ErrDeliveryFailed   = errors.New("relay: delivery failed")
	ErrDeliveryRejected = errors.New("relay: delivery rejected by CRM")
)

// Ledger errors
var (
	ErrLedgerEntryNotFound = errors.New("relay: ledger entry not found")
)

// Policy errors
var (
	ErrUnknownCartPolicy   = errors.New("relay: unknown cart status policy")
	ErrInvalidWindowPolicy = errors.New("relay: invalid window policy")
	ErrInvalidWindow       = errors.New("relay: invalid sync window")
)

// Sync errors
var (
	ErrSyncInProgress      = errors.New("relay: sync pass already in progress")
	ErrUnknownWebhookEvent = errors.New("relay: unknown webhook event type")
	ErrEventSuppressed     = errors.New("relay: event suppressed")
)
