package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestGetEffectiveMarkdownExport(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected bool
	}{
		{
			name:     "site enabled overrides global disabled",
			siteCfg:  SiteConfig{MarkdownExport: boolPtr(true)},
			appCfg:   AppConfig{MarkdownExport: false},
			expected: true,
		},
		{
			name:     "site disabled overrides global enabled",
			siteCfg:  SiteConfig{MarkdownExport: boolPtr(false)},
			appCfg:   AppConfig{MarkdownExport: true},
			expected: false,
		},
		{
			name:     "site nil uses global enabled",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{MarkdownExport: true},
			expected: true,
		},
		{
			name:     "site nil uses global disabled",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveMarkdownExport(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveNumericSettings(t *testing.T) {
	tests := []struct {
		name          string
		siteCfg       SiteConfig
		appCfg        AppConfig
		wantBatch     int
		wantMinLength int
	}{
		{"site overrides", SiteConfig{BatchSize: 2, MinContentLength: 50}, AppConfig{BatchSize: 9, MinContentLength: 300}, 2, 50},
		{"global used", SiteConfig{}, AppConfig{BatchSize: 9, MinContentLength: 300}, 9, 300},
		{"hardcoded fallback", SiteConfig{}, AppConfig{}, DefaultBatchSize, DefaultMinContentLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBatch, GetEffectiveBatchSize(tt.siteCfg, tt.appCfg))
			assert.Equal(t, tt.wantMinLength, GetEffectiveMinContentLength(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveUserAgent(t *testing.T) {
	assert.Equal(t, "site/1", GetEffectiveUserAgent(SiteConfig{UserAgent: "site/1"}, AppConfig{DefaultUserAgent: "app/1"}))
	assert.Equal(t, "app/1", GetEffectiveUserAgent(SiteConfig{}, AppConfig{DefaultUserAgent: "app/1"}))
	assert.Equal(t, DefaultUserAgent, GetEffectiveUserAgent(SiteConfig{}, AppConfig{}))
}

func TestGetEffectivePaths(t *testing.T) {
	app := AppConfig{StateDir: "/state", OutputBaseDir: "/out"}

	assert.Equal(t, filepath.Join("/state", "my_site_crawl_plan.json"), GetEffectivePlanFile("my:site", SiteConfig{}, app))
	assert.Equal(t, "/custom/plan.json", GetEffectivePlanFile("docs", SiteConfig{PlanFile: "/custom/plan.json"}, app))
	assert.Equal(t, filepath.Join("/out", "docs"), GetEffectiveContentDir("docs", SiteConfig{}, app))
	assert.Equal(t, "/pages", GetEffectiveContentDir("docs", SiteConfig{ContentDir: "/pages"}, app))
}

func TestAppConfig_YAML(t *testing.T) {
	doc := `
default_user_agent: "bot/1"
state_dir: /var/lib/crawl
state_backend: badger
batch_size: 7
http_client_settings:
  timeout: 5s
sites:
  docs:
    start_url: https://www.example.com/
    allowed_domain: example.com
    markdown_export: true
    content_selector: main
`
	var cfg AppConfig
	assert.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	assert.Equal(t, "bot/1", cfg.DefaultUserAgent)
	assert.Equal(t, BackendBadger, cfg.StateBackend)
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, "5s", cfg.HTTPClientSettings.Timeout.String())
	site := cfg.Sites["docs"]
	assert.Equal(t, "https://www.example.com/", site.StartURL)
	assert.True(t, GetEffectiveMarkdownExport(site, cfg))
	assert.Equal(t, "main", site.ContentSelector)
}
