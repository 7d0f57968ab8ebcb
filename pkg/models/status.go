package models

// PageState represents where a plan entry is in its lifecycle
// Pending is the only non-terminal state; records never move back to it
type PageState string

const (
	PageStateUnset      PageState = ""           // Zero value = unset/unknown
	PageStatePending    PageState = "pending"    // Discovered, not fetched yet
	PageStateDownloaded PageState = "downloaded" // Fetched, accepted and saved
	PageStateSkipped    PageState = "skipped"    // Fetched, rejected by the content policy
	PageStateErrored    PageState = "errored"    // Fetch or save failed
)

// String implements fmt.Stringer for logging
func (s PageState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is a known operational value
func (s PageState) IsValid() bool {
	switch s {
	case PageStatePending, PageStateDownloaded, PageStateSkipped, PageStateErrored:
		return true
	}
	return false
}

// IsTerminal returns true for states a record can never leave
func (s PageState) IsTerminal() bool {
	switch s {
	case PageStateDownloaded, PageStateSkipped, PageStateErrored:
		return true
	}
	return false
}

// Skip reasons written by the content acceptance policy
// They are also how a persisted skip_reason is told apart from a fetch diagnostic on load
const (
	SkipReasonErrorPage           = "blank or error page"
	SkipReasonInsufficientContent = "insufficient content"
)

// IsPolicySkipReason reports whether reason was produced by the content policy
func IsPolicySkipReason(reason string) bool {
	return reason == SkipReasonErrorPage || reason == SkipReasonInsufficientContent
}
