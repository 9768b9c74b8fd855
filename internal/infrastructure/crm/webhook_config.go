package crm

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// WebhookConfig holds configuration for the CRM inbound webhook
type WebhookConfig struct {
	// URL is the inbound webhook endpoint of the CRM workflow
	URL string
	// Timeout is the per-request timeout
	Timeout time.Duration
	// UserAgent identifies the integration to the CRM
	UserAgent string
	// EventDelay is the pause after a post returns before the next one starts
	EventDelay time.Duration
}

const (
	DefaultWebhookTimeout = 30 * time.Second
	DefaultUserAgent      = "Neese-Integration/1.0"
	DefaultEventDelay     = 500 * time.Millisecond
)

// Errors for CRM configuration
var (
	ErrWebhookConfigMissingURL = errors.New("crm: webhook URL is required")
	ErrWebhookConfigInvalidURL = errors.New("crm: webhook URL must be an absolute http(s) URL")
)

// NewWebhookConfig creates a CRM webhook configuration with defaults
func NewWebhookConfig(webhookURL string) *WebhookConfig {
	return &WebhookConfig{
		URL:        webhookURL,
		Timeout:    DefaultWebhookTimeout,
		UserAgent:  DefaultUserAgent,
		EventDelay: DefaultEventDelay,
	}
}

// Validate validates the configuration and fills zero values with defaults.
// A zero EventDelay is kept and disables pacing.
func (c *WebhookConfig) Validate() error {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		return ErrWebhookConfigMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrWebhookConfigInvalidURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultWebhookTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.EventDelay < 0 {
		c.EventDelay = 0
	}
	return nil
}
