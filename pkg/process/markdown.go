package process

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/parse"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const defaultContentSelector = "body"

// MarkdownConverter renders accepted pages as Markdown next to the saved HTML
type MarkdownConverter struct {
	selector   string
	normalizer *parse.Normalizer
	log        *logrus.Entry
}

// NewMarkdownConverter creates a MarkdownConverter; an empty selector converts the whole body
func NewMarkdownConverter(selector string, n *parse.Normalizer, log *logrus.Entry) *MarkdownConverter {
	if strings.TrimSpace(selector) == "" {
		selector = defaultContentSelector
	}
	return &MarkdownConverter{selector: selector, normalizer: n, log: log}
}

// MarkdownFilename maps a saved HTML filename to its Markdown sibling
func MarkdownFilename(htmlFilename string) string {
	return strings.TrimSuffix(htmlFilename, ".html") + ".md"
}

// Convert extracts the configured content of body and converts it to Markdown
// Same-site links are rewritten to the Markdown files they will be saved as
func (mc *MarkdownConverter) Convert(body string, pageURL *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: HTML document '%s': %w", utils.ErrParsing, pageURL, err)
	}
	doc.Find("script, style, noscript").Remove()

	content := doc.Find(mc.selector)
	if content.Length() == 0 {
		return "", fmt.Errorf("%w: selector '%s' not found on page '%s'", utils.ErrMarkdownConversion, mc.selector, pageURL)
	}
	content = content.First()

	cleanupHTML(content)
	rewritten := mc.rewriteInternalLinks(content, pageURL)
	mc.log.Debugf("Rewrote %d internal links for Markdown export", rewritten)

	fragment, err := goquery.OuterHtml(content)
	if err != nil {
		return "", fmt.Errorf("%w: rendering selection: %w", utils.ErrMarkdownConversion, err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return markdown, nil
}

// rewriteInternalLinks points same-site anchors at their exported Markdown filenames
// Fragments are kept; out-of-scope links are left as they are
func (mc *MarkdownConverter) rewriteInternalLinks(content *goquery.Selection, pageURL *url.URL) int {
	count := 0
	content.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		target, err := mc.normalizer.NormalizeString(pageURL, href)
		if err != nil {
			return
		}
		local := MarkdownFilename(utils.ContentFilename(target))
		if ref.Fragment != "" {
			local += "#" + ref.Fragment
		}
		a.SetAttr("href", local)
		count++
	})
	return count
}

// cleanupHTML removes permalink noise that renders badly in Markdown
func cleanupHTML(content *goquery.Selection) {
	content.Find("a.headerlink, a.permalink, a.edit-on-github").Remove()
	content.Find("a[title='Permalink to this heading'], a[title='Link to this heading']").Remove()

	content.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
}
