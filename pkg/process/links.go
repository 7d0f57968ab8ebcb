package process

import (
	"net/url"
	"sort"

	"github.com/Sriram-PR/crawl-plan/pkg/markup"
	"github.com/Sriram-PR/crawl-plan/pkg/parse"
)

// LinkSet is a set of normalized URLs
type LinkSet map[string]struct{}

// Add inserts u into the set
func (s LinkSet) Add(u string) { s[u] = struct{}{} }

// Contains reports whether u is in the set
func (s LinkSet) Contains(u string) bool {
	_, ok := s[u]
	return ok
}

// Sorted returns the members in lexical order
func (s LinkSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ExtractLinks collects every same-site link of the document, normalized against base
// Hrefs the normalizer rejects are dropped. Malformed markup never fails the scan
func ExtractLinks(html string, base *url.URL, n *parse.Normalizer) LinkSet {
	links := make(LinkSet)
	for ev := range markup.EventsFromString(html) {
		if !ev.IsOpen("a") && !ev.IsOpen("area") {
			continue
		}
		href, ok := ev.Attr("href")
		if !ok || href == "" {
			continue
		}
		u, err := n.NormalizeString(base, href)
		if err != nil {
			continue
		}
		links.Add(u)
	}
	return links
}
