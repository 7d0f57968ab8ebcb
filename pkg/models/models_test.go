package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// legacyPlan is a plan as written by the original shell tooling: zone-less stamps, extra top-level keys
const legacyPlan = `{
  "site": "https://www.example.com/",
  "pages": [
    {"url": "https://www.example.com/", "downloaded": true, "downloaded_at": "2024-03-01T10:20:30.123456", "filename": "index.html"},
    {"url": "https://www.example.com/about", "downloaded": false},
    {"url": "https://www.example.com/missing", "downloaded": true, "downloaded_at": "2024-03-01T10:21:00", "skip_reason": "blank or error page"},
    {"url": "https://www.example.com/slow", "downloaded": true, "downloaded_at": "2024-03-01T10:22:00", "skip_reason": "context deadline exceeded"},
    {"url": "https://www.example.com/old", "downloaded": true},
    {"url": "https://www.example.com/tagged", "downloaded": false, "priority": 3, "filename": null}
  ]
}`

func mustUnmarshalPlan(t *testing.T, doc string) *CrawlPlan {
	t.Helper()
	plan, err := ParsePlan([]byte(doc))
	require.NoError(t, err)
	return plan
}

func pendingPlan(n int) *CrawlPlan {
	plan := NewCrawlPlan()
	urls := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/p%d", i))
	}
	plan.MergeLinks(urls)
	return plan
}

func TestCrawlPlan_UnmarshalDerivesStates(t *testing.T) {
	plan := mustUnmarshalPlan(t, legacyPlan)

	require.Equal(t, 6, plan.Len())
	want := []PageState{
		PageStateDownloaded,
		PageStatePending,
		PageStateSkipped,
		PageStateErrored,
		PageStateDownloaded,
		PageStatePending,
	}
	for i, p := range plan.Pages {
		assert.Equal(t, want[i], p.State, "page %d (%s)", i, p.URL)
	}

	assert.Equal(t, "2024-03-01T10:20:30.123456", plan.Pages[0].DownloadedAt.String())
	require.NotNil(t, plan.Pages[0].Filename)
	assert.Equal(t, "index.html", *plan.Pages[0].Filename)
	assert.Nil(t, plan.Pages[1].DownloadedAt)
	assert.Nil(t, plan.Pages[1].Filename)
	assert.Nil(t, plan.Pages[1].SkipReason)
	assert.Contains(t, plan.Extra, "site")
}

func TestCrawlPlan_RoundTripPreservesPresence(t *testing.T) {
	plan := mustUnmarshalPlan(t, legacyPlan)

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var raw struct {
		Site  string                       `json:"site"`
		Pages []map[string]json.RawMessage `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "https://www.example.com/", raw.Site)
	require.Len(t, raw.Pages, 6)

	assert.ElementsMatch(t, []string{"url", "downloaded", "downloaded_at", "filename"}, keysOf(raw.Pages[0]))
	assert.ElementsMatch(t, []string{"url", "downloaded"}, keysOf(raw.Pages[1]))
	assert.ElementsMatch(t, []string{"url", "downloaded", "downloaded_at", "skip_reason"}, keysOf(raw.Pages[2]))
	assert.ElementsMatch(t, []string{"url", "downloaded"}, keysOf(raw.Pages[4]))
	assert.ElementsMatch(t, []string{"url", "downloaded", "priority", "filename"}, keysOf(raw.Pages[5]))
	assert.Equal(t, "null", string(raw.Pages[5]["filename"]), "explicit null stays null")
	assert.Equal(t, `"2024-03-01T10:20:30.123456"`, string(raw.Pages[0]["downloaded_at"]))

	// A second pass is byte-for-byte stable
	again := mustUnmarshalPlan(t, string(data))
	data2, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2))
}

func TestCrawlPlan_DocumentFieldOrderAndEscaping(t *testing.T) {
	plan := NewCrawlPlan()
	plan.MergeLinks([]string{"https://example.com/search?a=1&b=2"})

	data, err := plan.Document()
	require.NoError(t, err)
	want := `{
  "pages": [
    {
      "url": "https://example.com/search?a=1&b=2",
      "downloaded": false
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}

func TestCrawlPlan_EmptyPlanMarshalsEmptyPages(t *testing.T) {
	data, err := json.Marshal(&CrawlPlan{})
	require.NoError(t, err)
	assert.Equal(t, `{"pages":[]}`, string(data))

	plan := mustUnmarshalPlan(t, `{}`)
	assert.Equal(t, 0, plan.Len())
}

func TestCrawlPlan_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"NotJSON", `not json`, utils.ErrParsing},
		{"Truncated", `{"pages": [`, utils.ErrParsing},
		{"Empty", ``, utils.ErrParsing},
		{"PagesNotArray", `{"pages": {}}`, utils.ErrParsing},
		{"PageWithoutURL", `{"pages": [{"downloaded": false}]}`, utils.ErrParsing},
		{"NullPage", `{"pages": [null]}`, utils.ErrParsing},
		{"BadDownloadedFlag", `{"pages": [{"url": "u", "downloaded": "yes"}]}`, utils.ErrParsing},
		{"NumericStamp", `{"pages": [{"url": "u", "downloaded": true, "downloaded_at": 12}]}`, utils.ErrParsing},
		{"DuplicateURL", `{"pages": [{"url": "u", "downloaded": false}, {"url": "u", "downloaded": true}]}`, utils.ErrInvariantViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, utils.CategorizeError(tt.wantErr), utils.CategorizeError(err))
		})
	}
}

func TestCrawlPlan_MergeLinks(t *testing.T) {
	plan := NewCrawlPlan()

	added := plan.MergeLinks([]string{"https://example.com/b", "https://example.com/a", "https://example.com/b"})
	assert.Equal(t, []string{"https://example.com/b", "https://example.com/a"}, added)
	require.Equal(t, 2, plan.Len())
	assert.Equal(t, "https://example.com/b", plan.Pages[0].URL, "insertion order is discovery order")
	assert.Equal(t, PageStatePending, plan.Pages[1].State)

	added = plan.MergeLinks([]string{"https://example.com/c", "https://example.com/a"})
	assert.Equal(t, []string{"https://example.com/c"}, added)
	assert.Equal(t, 3, plan.Len())
}

func TestCrawlPlan_IndexFollowsInPlaceEdits(t *testing.T) {
	plan := NewCrawlPlan()
	plan.MergeLinks([]string{"https://example.com/a", "https://example.com/b"})
	require.True(t, plan.Contains("https://example.com/a"))

	plan.Pages[0] = &PageRecord{URL: "https://example.com/c", State: PageStatePending}

	assert.False(t, plan.Contains("https://example.com/a"))
	rec, ok := plan.Page("https://example.com/c")
	require.True(t, ok)
	assert.Same(t, plan.Pages[0], rec)

	added := plan.MergeLinks([]string{"https://example.com/a", "https://example.com/c"})
	assert.Equal(t, []string{"https://example.com/a"}, added)
	assert.Equal(t, 3, plan.Len())

	plan.Pages[0], plan.Pages[1] = plan.Pages[1], plan.Pages[0]
	require.NoError(t, plan.RecordOutcome("https://example.com/c", Downloaded("c.html"), time.Now()))
	assert.Equal(t, PageStateDownloaded, plan.Pages[1].State)
	assert.Equal(t, PageStatePending, plan.Pages[0].State)
}

func TestCrawlPlan_MergeKnownURLsIsNoop(t *testing.T) {
	plan := mustUnmarshalPlan(t, legacyPlan)
	before, err := json.Marshal(plan)
	require.NoError(t, err)

	known := make([]string, 0, plan.Len())
	for _, p := range plan.Pages {
		known = append(known, p.URL)
	}
	added := plan.MergeLinks(known)

	assert.Empty(t, added)
	after, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestCrawlPlan_MergeOnHandBuiltPlan(t *testing.T) {
	plan := &CrawlPlan{Pages: []*PageRecord{{URL: "https://example.com/x", State: PageStatePending}}}

	added := plan.MergeLinks([]string{"https://example.com/x", "https://example.com/y"})
	assert.Equal(t, []string{"https://example.com/y"}, added)
	assert.True(t, plan.Contains("https://example.com/y"))
}

func TestCrawlPlan_NextPendingFIFO(t *testing.T) {
	plan := pendingPlan(7)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, plan.RecordOutcome("https://example.com/p2", Skipped(SkipReasonInsufficientContent), at))

	next := plan.NextPending(3)
	require.Len(t, next, 3)
	assert.Equal(t, "https://example.com/p1", next[0].URL)
	assert.Equal(t, "https://example.com/p3", next[1].URL)
	assert.Equal(t, "https://example.com/p4", next[2].URL)

	assert.Len(t, plan.NextPending(100), 6)
	assert.Nil(t, plan.NextPending(0))
}

func TestCrawlPlan_RecordOutcome(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("downloaded", func(t *testing.T) {
		plan := pendingPlan(1)
		require.NoError(t, plan.RecordOutcome("https://example.com/p1", Downloaded("p1.html"), at))
		rec, _ := plan.Page("https://example.com/p1")
		assert.Equal(t, PageStateDownloaded, rec.State)
		require.NotNil(t, rec.Filename)
		assert.Equal(t, "p1.html", *rec.Filename)
		assert.Nil(t, rec.SkipReason)
		assert.Equal(t, "2025-06-01T12:00:00Z", rec.DownloadedAt.String())
	})

	t.Run("skipped", func(t *testing.T) {
		plan := pendingPlan(1)
		require.NoError(t, plan.RecordOutcome("https://example.com/p1", Skipped(SkipReasonErrorPage), at))
		rec, _ := plan.Page("https://example.com/p1")
		assert.Equal(t, PageStateSkipped, rec.State)
		require.NotNil(t, rec.SkipReason)
		assert.Equal(t, SkipReasonErrorPage, *rec.SkipReason)
		assert.Nil(t, rec.Filename)
	})

	t.Run("errored survives reload", func(t *testing.T) {
		plan := pendingPlan(1)
		require.NoError(t, plan.RecordOutcome("https://example.com/p1", Errored("dial tcp 10.0.0.1:443: i/o timeout"), at))
		data, err := json.Marshal(plan)
		require.NoError(t, err)
		reloaded := mustUnmarshalPlan(t, string(data))
		assert.Equal(t, PageStateErrored, reloaded.Pages[0].State)
	})

	t.Run("unknown url", func(t *testing.T) {
		plan := pendingPlan(1)
		err := plan.RecordOutcome("https://example.com/nope", Downloaded("x.html"), at)
		assert.ErrorIs(t, err, utils.ErrInvariantViolation)
	})

	t.Run("never regresses", func(t *testing.T) {
		plan := pendingPlan(1)
		require.NoError(t, plan.RecordOutcome("https://example.com/p1", Downloaded("p1.html"), at))
		err := plan.RecordOutcome("https://example.com/p1", Errored("late"), at)
		assert.ErrorIs(t, err, utils.ErrInvariantViolation)
		rec, _ := plan.Page("https://example.com/p1")
		assert.Equal(t, PageStateDownloaded, rec.State)
	})

	t.Run("pending outcome rejected", func(t *testing.T) {
		plan := pendingPlan(1)
		err := plan.RecordOutcome("https://example.com/p1", Outcome{State: PageStatePending}, at)
		assert.ErrorIs(t, err, utils.ErrInvariantViolation)
	})

	t.Run("explicit null replaced once set", func(t *testing.T) {
		plan := mustUnmarshalPlan(t, `{"pages":[{"url":"u","downloaded":false,"filename":null}]}`)
		require.NoError(t, plan.RecordOutcome("u", Downloaded("u.html"), at))
		data, err := json.Marshal(plan)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(data), `"filename"`))
		assert.Contains(t, string(data), `"filename":"u.html"`)
	})
}

func TestErrored_TruncatesDiagnostic(t *testing.T) {
	long := strings.Repeat("x", 80)
	o := Errored(long)
	assert.Equal(t, PageStateErrored, o.State)
	assert.Len(t, o.Reason, MaxDiagnosticLength)

	short := Errored("refused")
	assert.Equal(t, "refused", short.Reason)
}

func TestCrawlPlan_Counts(t *testing.T) {
	plan := mustUnmarshalPlan(t, legacyPlan)
	c := plan.Counts()
	assert.Equal(t, StateCounts{Pending: 2, Downloaded: 2, Skipped: 1, Errored: 1}, c)
	assert.Equal(t, 6, c.Total())
}

func TestTimestamp_Time(t *testing.T) {
	ts := NewTimestamp(time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC))
	got, err := ts.Time()
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC)))

	legacy := Timestamp{raw: "2024-03-01T10:20:30.123456"}
	got, err = legacy.Time()
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, 123456000, got.Nanosecond())

	_, err = Timestamp{raw: "yesterday"}.Time()
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestCrawlPlan_AddRecord(t *testing.T) {
	plan := NewCrawlPlan()
	filename := "a.html"
	require.NoError(t, plan.AddRecord(&PageRecord{URL: "https://example.com/a", State: PageStateDownloaded, Filename: &filename}))
	require.NoError(t, plan.AddRecord(&PageRecord{URL: "https://example.com/b", State: PageStatePending}))

	err := plan.AddRecord(&PageRecord{URL: "https://example.com/a", State: PageStatePending})
	assert.True(t, errors.Is(err, utils.ErrInvariantViolation))
	assert.True(t, errors.Is(plan.AddRecord(nil), utils.ErrParsing))

	assert.Equal(t, 2, plan.Len())
	assert.Equal(t, StateCounts{Pending: 1, Downloaded: 1}, plan.Counts())
}
