package commands

// Category classifies a raw execution error (§4.4 "Error classification").
type Category string

const (
	CategoryNavigation              Category = "navigation"
	CategoryNetwork                 Category = "network"
	CategoryTimeout                 Category = "timeout"
	CategoryElementNotFound         Category = "element_not_found"
	CategoryElementNotInteractable  Category = "element_not_interactable"
	CategoryElementStale            Category = "element_stale"
	CategoryCrash                   Category = "crash"
	CategoryPermission              Category = "permission"
	CategoryOther                   Category = "other"
)

// Classification is the structured outcome of classifying a raw error.
type Classification struct {
	Category    Category
	Message     string
	Suggestion  string
	IsRetryable bool
}

// NavigationFailedError is a dedicated error type that bypasses the pattern
// table (§4.4 "Dedicated error types bypass the table").
type NavigationFailedError struct{ URL, Reason string }

func (e *NavigationFailedError) Error() string { return "navigation failed: " + e.URL + ": " + e.Reason }

// ViewportCrashedError signals the browser tab/process crashed.
type ViewportCrashedError struct{ Reason string }

func (e *ViewportCrashedError) Error() string { return "viewport crashed: " + e.Reason }

// URLBlockedError signals the URL policy rejected a navigate/new_tab target.
type URLBlockedError struct{ URL string }

func (e *URLBlockedError) Error() string { return "url blocked by policy: " + e.URL }

// patternEntry is one row of the ordered classification table.
type patternEntry struct {
	substr     string
	category   Category
	suggestion string
	retryable  bool
}

// classifyTable is checked top-to-bottom; first match wins. Ordering follows
// the spec's category list (§4.4) from most to least specific.
var classifyTable = []patternEntry{
	{"url blocked by policy", CategoryPermission, "choose a URL the policy allows", false},
	{"viewport crashed", CategoryCrash, "restart the browser session", false},
	{"not found", CategoryElementNotFound, "re-check the element index via find or read_page", true},
	{"no such element", CategoryElementNotFound, "re-check the element index via find or read_page", true},
	{"not interactable", CategoryElementNotInteractable, "scroll the element into view before interacting", true},
	{"not clickable", CategoryElementNotInteractable, "scroll the element into view before interacting", true},
	{"stale element", CategoryElementStale, "re-fetch page state before retrying", true},
	{"detached", CategoryElementStale, "re-fetch page state before retrying", true},
	{"timeout", CategoryTimeout, "retry with a longer wait or smaller step", true},
	{"deadline exceeded", CategoryTimeout, "retry with a longer wait or smaller step", true},
	{"target closed", CategoryCrash, "restart the browser session", false},
	{"browser closed", CategoryCrash, "restart the browser session", false},
	{"net::err", CategoryNetwork, "check connectivity and retry", true},
	{"connection refused", CategoryNetwork, "check connectivity and retry", true},
	{"dns", CategoryNetwork, "check the URL and retry", true},
	{"navigation", CategoryNavigation, "verify the URL and retry", true},
	{"permission denied", CategoryPermission, "request is not permitted", false},
}

// Classify applies dedicated-type bypass first, then the ordered pattern
// table, falling back to "other" (§4.4).
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryOther, IsRetryable: true}
	}

	switch e := err.(type) {
	case *NavigationFailedError:
		return Classification{Category: CategoryNavigation, Message: e.Error(), IsRetryable: true}
	case *ViewportCrashedError:
		return Classification{Category: CategoryCrash, Message: e.Error(), IsRetryable: false}
	case *URLBlockedError:
		return Classification{Category: CategoryPermission, Message: e.Error(), IsRetryable: false}
	}

	msg := err.Error()
	lower := toLower(msg)
	for _, p := range classifyTable {
		if containsFold(lower, p.substr) {
			return Classification{Category: p.category, Message: msg, Suggestion: p.suggestion, IsRetryable: p.retryable}
		}
	}
	return Classification{Category: CategoryOther, Message: msg, IsRetryable: true}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
