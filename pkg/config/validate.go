package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = DefaultUserAgent
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './crawled_pages'")
		c.OutputBaseDir = "./crawled_pages"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// StateBackend
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	switch c.StateBackend {
	case "":
		c.StateBackend = BackendFile
	case BackendFile, BackendBadger, BackendSQLite:
	default:
		return warnings, fmt.Errorf("%w: state_backend '%s' is not one of %s, %s, %s",
			utils.ErrConfigValidation, c.StateBackend, BackendFile, BackendBadger, BackendSQLite)
	}

	// BatchSize
	if c.BatchSize < 0 {
		warnings = append(warnings, fmt.Sprintf("batch_size cannot be negative, defaulting to %d", DefaultBatchSize))
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	// MinContentLength
	if c.MinContentLength < 0 {
		warnings = append(warnings, fmt.Sprintf("min_content_length cannot be negative, defaulting to %d", DefaultMinContentLength))
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = DefaultMinContentLength
	}

	// MaxBodyBytes
	if c.MaxBodyBytes < 0 {
		warnings = append(warnings, "max_body_bytes cannot be negative, using the default limit")
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// HTTPClientSettings defaults
	warnings = append(warnings, c.validateHTTPClientSettings()...)

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() (warnings []string) {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 10
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects < 0 {
		warnings = append(warnings, "http_client_settings.max_redirects cannot be negative, defaulting to 10")
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
	return warnings
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (canonical host, lower-cased domain).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: StartURL
	if c.StartURL == "" {
		return nil, fmt.Errorf("%w: site has no start_url", utils.ErrConfigValidation)
	}
	start, parseErr := url.Parse(c.StartURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: start_url '%s': %w", utils.ErrConfigValidation, c.StartURL, parseErr)
	}
	if (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("%w: start_url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, c.StartURL)
	}

	// Required: AllowedDomain
	c.AllowedDomain = strings.ToLower(strings.TrimSpace(c.AllowedDomain))
	if c.AllowedDomain == "" {
		return nil, fmt.Errorf("%w: site needs allowed_domain", utils.ErrConfigValidation)
	}
	if !strings.Contains(strings.ToLower(start.Host), c.AllowedDomain) {
		return nil, fmt.Errorf("%w: start_url host '%s' is outside allowed_domain '%s'",
			utils.ErrConfigValidation, start.Host, c.AllowedDomain)
	}

	// CanonicalHost
	if c.CanonicalHost == "" {
		c.CanonicalHost = start.Host
	} else if !strings.Contains(strings.ToLower(c.CanonicalHost), c.AllowedDomain) {
		return nil, fmt.Errorf("%w: canonical_host '%s' is outside allowed_domain '%s'",
			utils.ErrConfigValidation, c.CanonicalHost, c.AllowedDomain)
	}

	// BatchSize
	if c.BatchSize < 0 {
		warnings = append(warnings, "Site batch_size cannot be negative, using the global value")
		c.BatchSize = 0
	}

	// MinContentLength
	if c.MinContentLength < 0 {
		warnings = append(warnings, "Site min_content_length cannot be negative, using the global value")
		c.MinContentLength = 0
	}

	if c.ContentSelector != "" && c.MarkdownExport != nil && !*c.MarkdownExport {
		warnings = append(warnings, "Site content_selector is set but markdown_export is disabled; the selector is unused")
	}

	return warnings, nil
}
