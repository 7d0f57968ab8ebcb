package config

import (
	"path/filepath"
	"time"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// Plan storage backends
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

const (
	DefaultUserAgent        = "crawl-plan/1.0 (+https://github.com/Sriram-PR/crawl-plan)"
	DefaultBatchSize        = 5
	DefaultMinContentLength = 200
	DefaultMaxBodyBytes     = 10 << 20 // 10 MiB
)

// SiteConfig holds configuration specific to a single site
type SiteConfig struct {
	StartURL         string `yaml:"start_url"`
	AllowedDomain    string `yaml:"allowed_domain"`
	CanonicalHost    string `yaml:"canonical_host,omitempty"` // Host for links without one; defaults to the start URL host
	PlanFile         string `yaml:"plan_file,omitempty"`      // file backend only
	ContentDir       string `yaml:"content_dir,omitempty"`
	MinContentLength int    `yaml:"min_content_length,omitempty"`
	BatchSize        int    `yaml:"batch_size,omitempty"`
	UserAgent        string `yaml:"user_agent,omitempty"`
	MarkdownExport   *bool  `yaml:"markdown_export,omitempty"`
	ContentSelector  string `yaml:"content_selector,omitempty"` // Markdown export only
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent   string                `yaml:"default_user_agent"`
	OutputBaseDir      string                `yaml:"output_base_dir"`
	StateDir           string                `yaml:"state_dir"`
	StateBackend       string                `yaml:"state_backend,omitempty"`
	BatchSize          int                   `yaml:"batch_size,omitempty"`
	MinContentLength   int                   `yaml:"min_content_length,omitempty"`
	MaxBodyBytes       int64                 `yaml:"max_body_bytes,omitempty"`
	MarkdownExport     bool                  `yaml:"markdown_export,omitempty"`
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// GetEffectiveUserAgent determines the User-Agent header for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectiveBatchSize determines how many pending pages one fetch run takes
func GetEffectiveBatchSize(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.BatchSize > 0 {
		return siteCfg.BatchSize
	}
	if appCfg.BatchSize > 0 {
		return appCfg.BatchSize
	}
	return DefaultBatchSize
}

// GetEffectiveMinContentLength determines the content policy's minimum text length
func GetEffectiveMinContentLength(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MinContentLength > 0 {
		return siteCfg.MinContentLength
	}
	if appCfg.MinContentLength > 0 {
		return appCfg.MinContentLength
	}
	return DefaultMinContentLength
}

// GetEffectiveMarkdownExport determines whether accepted pages also get a Markdown copy
func GetEffectiveMarkdownExport(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.MarkdownExport != nil {
		return *siteCfg.MarkdownExport
	}
	return appCfg.MarkdownExport
}

// GetEffectivePlanFile determines the plan document path for the file backend
// Defaults to <state_dir>/<site>_crawl_plan.json
func GetEffectivePlanFile(siteKey string, siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.PlanFile != "" {
		return siteCfg.PlanFile
	}
	return filepath.Join(appCfg.StateDir, utils.SanitizeFilename(siteKey)+"_crawl_plan.json")
}

// GetEffectiveContentDir determines where accepted page bodies are written
// Defaults to <output_base_dir>/<site>
func GetEffectiveContentDir(siteKey string, siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.ContentDir != "" {
		return siteCfg.ContentDir
	}
	return filepath.Join(appCfg.OutputBaseDir, utils.SanitizeFilename(siteKey))
}
