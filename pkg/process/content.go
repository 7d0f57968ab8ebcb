package process

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/Sriram-PR/crawl-plan/pkg/markup"
	"github.com/Sriram-PR/crawl-plan/pkg/models"
)

const (
	// DefaultMinContentLength is the visible-text length (in runes) below which a page is rejected
	DefaultMinContentLength = 200
	// ErrorPageThreshold is the length below which an error indicator marks the page as an error page
	// Longer pages that merely mention "error" are real content
	ErrorPageThreshold = 500
)

// errorIndicators are matched against the case-folded visible text
var errorIndicators = []string{"404", "500", "error", "not found", "page not found"}

// Verdict is the outcome of the content acceptance policy
type Verdict struct {
	Accepted bool
	Reason   string // models.SkipReason* when rejected
	Length   int    // visible text length in runes
}

// Evaluate decides whether a fetched HTML body is worth keeping
// A minLength <= 0 uses DefaultMinContentLength
func Evaluate(html string, minLength int) Verdict {
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}
	text := VisibleText(html)
	length := utf8.RuneCountInString(text)

	if length < ErrorPageThreshold && containsErrorIndicator(cases.Fold().String(text)) {
		return Verdict{Reason: models.SkipReasonErrorPage, Length: length}
	}
	if length < minLength {
		return Verdict{Reason: models.SkipReasonInsufficientContent, Length: length}
	}
	return Verdict{Accepted: true, Length: length}
}

// VisibleText returns the document's text outside script and style elements
// Fragments are trimmed and joined with single spaces
func VisibleText(html string) string {
	var parts []string
	hidden := 0
	for ev := range markup.EventsFromString(html) {
		switch ev.Kind {
		case markup.StartTag:
			if isHiddenElement(ev.Tag) {
				hidden++
			}
		case markup.EndTag:
			if isHiddenElement(ev.Tag) && hidden > 0 {
				hidden--
			}
		case markup.Text:
			if hidden > 0 {
				continue
			}
			if s := strings.TrimSpace(ev.Text); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func isHiddenElement(tag string) bool {
	return tag == "script" || tag == "style"
}

func containsErrorIndicator(folded string) bool {
	for _, ind := range errorIndicators {
		if strings.Contains(folded, ind) {
			return true
		}
	}
	return false
}
