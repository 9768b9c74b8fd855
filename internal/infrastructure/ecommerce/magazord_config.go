package ecommerce

import (
	"errors"
	"strings"
	"time"
)

// MagazordConfig holds configuration for the Magazord v2 REST API
type MagazordConfig struct {
	// BaseURL is the panel API root, e.g. https://loja.painel.magazord.com.br/api
	BaseURL string
	// Username and Password are the API basic auth credentials
	Username string
	Password string
	// PageLimit is the page size of list endpoints (max 100)
	PageLimit int
	// MaxPages bounds pagination of a single list call
	MaxPages int
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// ItemLookupConcurrency bounds concurrent cart item lookups
	ItemLookupConcurrency int
}

const (
	// DefaultMagazordPageLimit is the largest page the API serves
	DefaultMagazordPageLimit = 100
	// DefaultMagazordMaxPages bounds a window to 2000 records per resource
	DefaultMagazordMaxPages = 20
	// DefaultMagazordTimeout is the HTTP request timeout
	DefaultMagazordTimeout = 30 * time.Second
	// DefaultItemLookupConcurrency bounds concurrent cart item lookups
	DefaultItemLookupConcurrency = 4
)

// Errors for Magazord configuration
var (
	ErrMagazordConfigMissingBaseURL     = errors.New("magazord: base URL is required")
	ErrMagazordConfigMissingCredentials = errors.New("magazord: username and password are required")
)

// NewMagazordConfig creates a Magazord configuration with defaults
func NewMagazordConfig(baseURL, username, password string) *MagazordConfig {
	return &MagazordConfig{
		BaseURL:               baseURL,
		Username:              username,
		Password:              password,
		PageLimit:             DefaultMagazordPageLimit,
		MaxPages:              DefaultMagazordMaxPages,
		Timeout:               DefaultMagazordTimeout,
		ItemLookupConcurrency: DefaultItemLookupConcurrency,
	}
}

// Validate validates the configuration and fills zero values with defaults
func (c *MagazordConfig) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return ErrMagazordConfigMissingBaseURL
	}
	if c.Username == "" || c.Password == "" {
		return ErrMagazordConfigMissingCredentials
	}
	if c.PageLimit <= 0 || c.PageLimit > DefaultMagazordPageLimit {
		c.PageLimit = DefaultMagazordPageLimit
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMagazordMaxPages
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultMagazordTimeout
	}
	if c.ItemLookupConcurrency <= 0 {
		c.ItemLookupConcurrency = DefaultItemLookupConcurrency
	}
	return nil
}
