package formapi

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Config holds configuration for the form-api component.
type Config struct {
	// CookieName names the session cookie.
	CookieName string `json:"cookie_name" yaml:"cookie_name"`

	// SecureCookie marks the session cookie Secure, for HTTPS deployments.
	SecureCookie bool `json:"secure_cookie" yaml:"secure_cookie"`

	// UploadPatterns are doublestar globs an uploaded filename must match.
	// Empty accepts any name.
	UploadPatterns []string `json:"upload_patterns" yaml:"upload_patterns"`

	// MaxUploadSize limits header upload bodies in bytes.
	MaxUploadSize int64 `json:"max_upload_size" yaml:"max_upload_size"`

	// StacVersion and SelfHref are written into assembled Items.
	StacVersion string `json:"stac_version" yaml:"stac_version"`
	SelfHref    string `json:"self_href" yaml:"self_href"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CookieName:     "topo4d_session",
		UploadPatterns: []string{"**/*.json", "**/*.las", "**/*.laz"},
		MaxUploadSize:  1 << 20,
		StacVersion:    "1.1.0",
		SelfHref:       "./item.json",
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.CookieName == "" {
		return fmt.Errorf("cookie_name is required")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}
	for _, p := range c.UploadPatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid upload pattern %q", p)
		}
	}
	return nil
}
