package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// MaxDiagnosticLength caps the fetch diagnostic stored for errored pages (in runes)
const MaxDiagnosticLength = 50

// Wire field names of a page object in the persisted plan
const (
	fieldURL          = "url"
	fieldDownloaded   = "downloaded"
	fieldDownloadedAt = "downloaded_at"
	fieldFilename     = "filename"
	fieldSkipReason   = "skip_reason"
	fieldPages        = "pages"
)

// Timestamp is an ISO-8601 instant kept exactly as it was read
// Plans written by older tooling carry zone-less stamps, so the text is never reformatted
type Timestamp struct {
	raw string
}

// NewTimestamp formats t as RFC 3339 with nanoseconds
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{raw: t.Format(time.RFC3339Nano)}
}

// String returns the stamp as persisted
func (ts Timestamp) String() string { return ts.raw }

// Time parses the stamp; zone-less stamps are read in local time
func (ts Timestamp) Time() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, ts.raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", ts.raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp '%s': %w", utils.ErrParsing, ts.raw, err)
	}
	return t, nil
}

// MarshalJSON implements json.Marshaler
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return marshalNoEscape(ts.raw)
}

// UnmarshalJSON implements json.Unmarshaler
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: JSON downloaded_at must be a string: %w", utils.ErrParsing, err)
	}
	ts.raw = s
	return nil
}

// PageRecord is one entry of the crawl plan
// Optional fields are nil when absent from the persisted document
type PageRecord struct {
	URL          string
	State        PageState
	DownloadedAt *Timestamp
	Filename     *string
	SkipReason   *string
	// Extra holds fields this tool does not interpret (including explicit nulls), written back verbatim
	Extra map[string]json.RawMessage
}

// MarshalJSON writes the page object with known fields first, then extras in key order
func (p PageRecord) MarshalJSON() ([]byte, error) {
	fields := []struct {
		key   string
		value any
		set   bool
	}{
		{fieldURL, p.URL, true},
		{fieldDownloaded, p.State.IsTerminal(), true},
		{fieldDownloadedAt, p.DownloadedAt, p.DownloadedAt != nil},
		{fieldFilename, p.Filename, p.Filename != nil},
		{fieldSkipReason, p.SkipReason, p.SkipReason != nil},
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	written := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := writeMember(&buf, &first, f.key, f.value); err != nil {
			return nil, err
		}
		written[f.key] = true
	}
	for _, key := range sortedKeys(p.Extra) {
		if written[key] {
			continue // known field was set after load and wins over the preserved raw value
		}
		if err := writeMember(&buf, &first, key, p.Extra[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a page object and derives its State
// downloaded=false is Pending; otherwise filename means Downloaded, a policy skip_reason Skipped,
// any other skip_reason Errored, and neither Downloaded
func (p *PageRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: JSON page object: %w", utils.ErrParsing, err)
	}

	rec := PageRecord{}
	urlRaw, ok := raw[fieldURL]
	if !ok {
		return fmt.Errorf("%w: JSON page object without url", utils.ErrParsing)
	}
	if err := json.Unmarshal(urlRaw, &rec.URL); err != nil {
		return fmt.Errorf("%w: JSON page url: %w", utils.ErrParsing, err)
	}
	delete(raw, fieldURL)

	downloaded := false
	if v, ok := raw[fieldDownloaded]; ok {
		if err := json.Unmarshal(v, &downloaded); err != nil {
			return fmt.Errorf("%w: JSON page '%s' downloaded flag: %w", utils.ErrParsing, rec.URL, err)
		}
		delete(raw, fieldDownloaded)
	}

	if v, ok := raw[fieldDownloadedAt]; ok && !isNull(v) {
		var ts Timestamp
		if err := json.Unmarshal(v, &ts); err != nil {
			return err
		}
		rec.DownloadedAt = &ts
		delete(raw, fieldDownloadedAt)
	}
	for key, dst := range map[string]**string{fieldFilename: &rec.Filename, fieldSkipReason: &rec.SkipReason} {
		v, ok := raw[key]
		if !ok || isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("%w: JSON page '%s' %s: %w", utils.ErrParsing, rec.URL, key, err)
		}
		*dst = &s
		delete(raw, key)
	}

	switch {
	case !downloaded:
		rec.State = PageStatePending
	case rec.Filename != nil:
		rec.State = PageStateDownloaded
	case rec.SkipReason != nil && IsPolicySkipReason(*rec.SkipReason):
		rec.State = PageStateSkipped
	case rec.SkipReason != nil:
		rec.State = PageStateErrored
	default:
		rec.State = PageStateDownloaded
	}

	if len(raw) > 0 {
		rec.Extra = raw
	}
	*p = rec
	return nil
}

// Outcome is the terminal result recorded for a fetched page
type Outcome struct {
	State    PageState
	Filename string // Downloaded only
	Reason   string // Skipped or Errored
}

// Downloaded is the outcome of an accepted page saved under filename
func Downloaded(filename string) Outcome {
	return Outcome{State: PageStateDownloaded, Filename: filename}
}

// Skipped is the outcome of a page rejected by the content policy
func Skipped(reason string) Outcome {
	return Outcome{State: PageStateSkipped, Reason: reason}
}

// Errored is the outcome of a failed fetch; the diagnostic is truncated to MaxDiagnosticLength runes
func Errored(diagnostic string) Outcome {
	return Outcome{State: PageStateErrored, Reason: utils.TruncateRunes(diagnostic, MaxDiagnosticLength)}
}

// StateCounts tallies plan records by state
type StateCounts struct {
	Pending    int
	Downloaded int
	Skipped    int
	Errored    int
}

// Total returns the number of records counted
func (c StateCounts) Total() int {
	return c.Pending + c.Downloaded + c.Skipped + c.Errored
}

// CrawlPlan is the ledger of every discovered URL, in discovery order
// URLs are unique; use MergeLinks or AddRecord to add records rather than appending to Pages
type CrawlPlan struct {
	Pages []*PageRecord
	// Extra holds top-level fields other than "pages", written back verbatim
	Extra map[string]json.RawMessage

	index map[string]int
}

// NewCrawlPlan returns an empty plan
func NewCrawlPlan() *CrawlPlan {
	return &CrawlPlan{Pages: make([]*PageRecord, 0), index: make(map[string]int)}
}

// Len returns the number of records
func (cp *CrawlPlan) Len() int { return len(cp.Pages) }

// Page returns the record for url
func (cp *CrawlPlan) Page(url string) (*PageRecord, bool) {
	cp.syncIndex()
	i, ok := cp.index[url]
	if !ok {
		return nil, false
	}
	return cp.Pages[i], true
}

// Contains reports whether url is already in the plan
func (cp *CrawlPlan) Contains(url string) bool {
	_, ok := cp.Page(url)
	return ok
}

// MergeLinks appends a Pending record for every url not already present, in the given order
// Existing records are left untouched. Returns the URLs that were added
func (cp *CrawlPlan) MergeLinks(urls []string) []string {
	cp.syncIndex()
	added := make([]string, 0)
	for _, u := range urls {
		if _, exists := cp.index[u]; exists {
			continue
		}
		cp.index[u] = len(cp.Pages)
		cp.Pages = append(cp.Pages, &PageRecord{URL: u, State: PageStatePending})
		added = append(added, u)
	}
	return added
}

// AddRecord appends a loaded record as-is; a URL already present is an invariant violation
func (cp *CrawlPlan) AddRecord(rec *PageRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil page record", utils.ErrParsing)
	}
	cp.ensureIndex()
	if _, dup := cp.index[rec.URL]; dup {
		return fmt.Errorf("%w: duplicate URL '%s' in plan", utils.ErrInvariantViolation, rec.URL)
	}
	cp.index[rec.URL] = len(cp.Pages)
	cp.Pages = append(cp.Pages, rec)
	return nil
}

// NextPending returns up to n Pending records in plan order
func (cp *CrawlPlan) NextPending(n int) []*PageRecord {
	if n <= 0 {
		return nil
	}
	selected := make([]*PageRecord, 0, n)
	for _, p := range cp.Pages {
		if p.State != PageStatePending {
			continue
		}
		selected = append(selected, p)
		if len(selected) == n {
			break
		}
	}
	return selected
}

// RecordOutcome moves the record for url from Pending to the terminal state of o, stamped with at
// Unknown URLs, already-terminal records and non-terminal outcomes are invariant violations
func (cp *CrawlPlan) RecordOutcome(url string, o Outcome, at time.Time) error {
	rec, ok := cp.Page(url)
	if !ok {
		return fmt.Errorf("%w: outcome for unknown URL '%s'", utils.ErrInvariantViolation, url)
	}
	if rec.State != PageStatePending {
		return fmt.Errorf("%w: URL '%s' already %s", utils.ErrInvariantViolation, url, rec.State)
	}
	if !o.State.IsTerminal() {
		return fmt.Errorf("%w: outcome state '%s' is not terminal", utils.ErrInvariantViolation, o.State)
	}

	ts := NewTimestamp(at)
	rec.State = o.State
	rec.DownloadedAt = &ts
	switch o.State {
	case PageStateDownloaded:
		filename := o.Filename
		rec.Filename = &filename
		rec.SkipReason = nil
	default:
		reason := o.Reason
		rec.SkipReason = &reason
		rec.Filename = nil
	}
	return nil
}

// Counts tallies records by state
func (cp *CrawlPlan) Counts() StateCounts {
	var c StateCounts
	for _, p := range cp.Pages {
		switch p.State {
		case PageStatePending:
			c.Pending++
		case PageStateDownloaded:
			c.Downloaded++
		case PageStateSkipped:
			c.Skipped++
		case PageStateErrored:
			c.Errored++
		}
	}
	return c
}

// MarshalJSON writes {"pages": [...]} followed by preserved top-level fields
func (cp *CrawlPlan) MarshalJSON() ([]byte, error) {
	pages := cp.Pages
	if pages == nil {
		pages = []*PageRecord{}
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	if err := writeMember(&buf, &first, fieldPages, pages); err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(cp.Extra) {
		if key == fieldPages {
			continue
		}
		if err := writeMember(&buf, &first, key, cp.Extra[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Document renders the plan as the persisted, two-space indented JSON document
func (cp *CrawlPlan) Document() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cp); err != nil {
		return nil, fmt.Errorf("%w: JSON encoding plan: %w", utils.ErrParsing, err)
	}
	return buf.Bytes(), nil
}

// ParsePlan decodes a plan document
// Malformed JSON wraps utils.ErrParsing; encoding/json would otherwise report it before UnmarshalJSON runs
func ParsePlan(data []byte) (*CrawlPlan, error) {
	if !json.Valid(data) {
		var v any
		err := json.Unmarshal(data, &v)
		return nil, fmt.Errorf("%w: JSON plan document: %w", utils.ErrParsing, err)
	}
	var plan CrawlPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// UnmarshalJSON reads a plan document; duplicate URLs are rejected
func (cp *CrawlPlan) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: JSON plan document: %w", utils.ErrParsing, err)
	}

	var pages []*PageRecord
	if v, ok := raw[fieldPages]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &pages); err != nil {
			return fmt.Errorf("%w: JSON plan pages: %w", utils.ErrParsing, err)
		}
	}
	delete(raw, fieldPages)

	plan := NewCrawlPlan()
	if len(raw) > 0 {
		plan.Extra = raw
	}
	for i, p := range pages {
		if p == nil {
			return fmt.Errorf("%w: JSON plan page #%d is null", utils.ErrParsing, i+1)
		}
		if err := plan.AddRecord(p); err != nil {
			return err
		}
	}

	*cp = *plan
	return nil
}

// ensureIndex rebuilds the URL index when it is missing or its size differs from Pages
// Only AddRecord relies on it alone, since loaders append one record at a time
func (cp *CrawlPlan) ensureIndex() {
	if cp.index != nil && len(cp.index) == len(cp.Pages) {
		return
	}
	cp.rebuildIndex()
}

// syncIndex rebuilds the URL index unless every record maps to its own position
// A record replaced in place keeps the length equal, so sizes alone cannot show staleness
func (cp *CrawlPlan) syncIndex() {
	if cp.index != nil && len(cp.index) == len(cp.Pages) {
		current := true
		for i, p := range cp.Pages {
			if j, ok := cp.index[p.URL]; !ok || j != i {
				current = false
				break
			}
		}
		if current {
			return
		}
	}
	cp.rebuildIndex()
}

func (cp *CrawlPlan) rebuildIndex() {
	cp.index = make(map[string]int, len(cp.Pages))
	for i, p := range cp.Pages {
		if _, exists := cp.index[p.URL]; !exists {
			cp.index[p.URL] = i
		}
	}
}

// marshalNoEscape encodes v without HTML escaping, so URLs keep their '&'
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeMember(buf *bytes.Buffer, first *bool, key string, value any) error {
	if !*first {
		buf.WriteByte(',')
	}
	*first = false
	k, err := marshalNoEscape(key)
	if err != nil {
		return err
	}
	v, err := marshalNoEscape(value)
	if err != nil {
		return fmt.Errorf("%w: JSON field '%s': %w", utils.ErrParsing, key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
