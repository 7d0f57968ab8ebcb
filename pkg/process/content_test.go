package process

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-plan/pkg/models"
)

func page(body string) string {
	return "<html><head><title></title></head><body>" + body + "</body></html>"
}

// prose returns n runes of ordinary text that mentions "error" exactly once
func prose(n int) string {
	text := "An error can teach us something. " + strings.Repeat("Lorem ipsum dolor sit amet. ", n/20+1)
	return text[:n-1] + "."
}

func TestVisibleText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"Paragraphs", "<p>Hello</p><p>world</p>", "Hello world"},
		{"TrimsFragments", "<div>\n  Hello \n</div>\n\n<span> there </span>", "Hello there"},
		{"ScriptExcluded", "<p>Keep</p><script>var msg = 'human readable words';</script><p>this</p>", "Keep this"},
		{"StyleExcluded", "<style>body { color: red }</style><p>Visible</p>", "Visible"},
		{"NestedInline", "<p>one <b>two</b> three</p>", "one two three"},
		{"Entities", "<p>fish &amp; chips</p>", "fish & chips"},
		{"Empty", "", ""},
		{"UnclosedScriptHidesRest", "<p>before</p><script>never shown", "before"},
		{"StrayEndTag", "</script><p>still visible</p>", "still visible"},
		{"NoscriptMarkupStripped", "<noscript><p>Enable <b>JS</b></p></noscript><p>now</p>", "Enable JS now"},
		{"ScriptInsideNoscriptExcluded", "<noscript><script>hidden()</script><p>shown</p></noscript>", "shown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, VisibleText(tt.html))
		})
	}
}

func TestEvaluate_ShortPageInsufficient(t *testing.T) {
	v := Evaluate("<html><body><p>short</p></body></html>", 200)

	assert.False(t, v.Accepted)
	assert.Equal(t, models.SkipReasonInsufficientContent, v.Reason)
	assert.Equal(t, 5, v.Length)
}

func TestEvaluate_LongProseWithErrorAccepted(t *testing.T) {
	body := page("<p>" + prose(600) + "</p>")
	require.Equal(t, 600, utf8.RuneCountInString(VisibleText(body)))
	require.Equal(t, 1, strings.Count(strings.ToLower(VisibleText(body)), "error"))

	v := Evaluate(body, 200)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Reason)
}

func TestEvaluate_NotFoundPageRejected(t *testing.T) {
	text := "404 Not Found " + strings.Repeat("x", 36)
	body := page("<h1>" + text + "</h1>")
	require.Equal(t, 50, utf8.RuneCountInString(VisibleText(body)))

	v := Evaluate(body, 200)
	assert.False(t, v.Accepted)
	assert.Equal(t, models.SkipReasonErrorPage, v.Reason)
}

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		minLength int
		accepted  bool
		reason    string
	}{
		{"IndicatorJustUnderThreshold", prose(ErrorPageThreshold - 1), 200, false, models.SkipReasonErrorPage},
		{"IndicatorAtThreshold", prose(ErrorPageThreshold), 200, true, ""},
		{"IndicatorWinsOverLength", "Server Error", 200, false, models.SkipReasonErrorPage},
		{"CaseFolded", "PAGE NOT FOUND", 1, false, models.SkipReasonErrorPage},
		{"Status500", "HTTP 500", 1, false, models.SkipReasonErrorPage},
		{"BelowCustomMinimum", strings.Repeat("a", 299), 300, false, models.SkipReasonInsufficientContent},
		{"AtCustomMinimum", strings.Repeat("a", 300), 300, true, ""},
		{"ZeroMinimumUsesDefault", strings.Repeat("a", DefaultMinContentLength-1), 0, false, models.SkipReasonInsufficientContent},
		{"NegativeMinimumUsesDefault", strings.Repeat("a", DefaultMinContentLength), -1, true, ""},
		{"MultiByteCountsRunes", strings.Repeat("é", 200), 200, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(page("<p>"+tt.text+"</p>"), tt.minLength)
			assert.Equal(t, tt.accepted, v.Accepted)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestEvaluate_ScriptTextDoesNotCount(t *testing.T) {
	script := "<script>" + strings.Repeat("document.write('plenty of words'); ", 50) + "</script>"
	v := Evaluate(page(script+"<p>tiny</p>"), 200)

	assert.False(t, v.Accepted)
	assert.Equal(t, models.SkipReasonInsufficientContent, v.Reason)
	assert.Equal(t, 4, v.Length)
}
