package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// DefaultHSTSMaxAge is one year
const DefaultHSTSMaxAge = 365 * 24 * 60 * 60

// SecurityConfig holds configuration for security headers
type SecurityConfig struct {
	HSTSEnabled bool // only behind TLS
	HSTSMaxAge  int  // in seconds
}

// Secure sets the security headers without HSTS
func Secure() gin.HandlerFunc {
	return SecureWithConfig(SecurityConfig{HSTSMaxAge: DefaultHSTSMaxAge})
}

// SecureWithConfig sets the security headers. Every response is JSON, so
// the content policy allows nothing.
func SecureWithConfig(cfg SecurityConfig) gin.HandlerFunc {
	headers := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	if cfg.HSTSEnabled {
		headers["Strict-Transport-Security"] = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range headers {
			h.Set(k, v)
		}
		c.Next()
	}
}
