package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const defaultScheme = "https"

// Normalizer canonicalizes discovered links for a single site
type Normalizer struct {
	// SiteDomain must be contained in the host of every accepted URL (e.g. "example.com")
	SiteDomain string
	// CanonicalHost fills in the host when a resolved URL has none (e.g. "www.example.com")
	CanonicalHost string
}

// NewNormalizer creates a Normalizer; an empty canonicalHost falls back to siteDomain
func NewNormalizer(siteDomain, canonicalHost string) *Normalizer {
	if canonicalHost == "" {
		canonicalHost = siteDomain
	}
	return &Normalizer{SiteDomain: siteDomain, CanonicalHost: canonicalHost}
}

// Normalize resolves href against base and returns the canonical same-site URL
// Rejected links return an error wrapping utils.ErrScopeViolation (wrong scheme or host) or utils.ErrParsing (unparseable href)
// The fragment is dropped; path, path parameters and query are kept verbatim
// Does not modify base
func (n *Normalizer) Normalize(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("%w: URL href '%s': %w", utils.ErrParsing, href, err)
	}

	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}

	if resolved.Scheme != "" && resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme '%s' in '%s'", utils.ErrScopeViolation, resolved.Scheme, href)
	}
	if resolved.Host != "" && !n.sameSite(resolved.Host) {
		return nil, fmt.Errorf("%w: host '%s' outside site '%s'", utils.ErrScopeViolation, resolved.Host, n.SiteDomain)
	}

	// Work on a copy
	clean := *resolved
	clean.Fragment = ""
	clean.RawFragment = ""
	if clean.Scheme == "" {
		clean.Scheme = defaultScheme
	}
	if clean.Host == "" {
		clean.Host = n.CanonicalHost
	}
	if !n.sameSite(clean.Host) {
		return nil, fmt.Errorf("%w: canonical host '%s' outside site '%s'", utils.ErrScopeViolation, clean.Host, n.SiteDomain)
	}
	// Opaque URLs such as "https:foo" carry no host to check
	if clean.Opaque != "" {
		return nil, fmt.Errorf("%w: opaque URL '%s'", utils.ErrScopeViolation, href)
	}
	return &clean, nil
}

// NormalizeString is Normalize returning the URL in string form
func (n *Normalizer) NormalizeString(base *url.URL, href string) (string, error) {
	u, err := n.Normalize(base, href)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// SameSite reports whether host belongs to the configured site
func (n *Normalizer) SameSite(host string) bool {
	return n.sameSite(host)
}

func (n *Normalizer) sameSite(host string) bool {
	return strings.Contains(strings.ToLower(host), strings.ToLower(n.SiteDomain))
}
