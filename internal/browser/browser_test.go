package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests exercise the pure-logic helpers only: spinning up a real
// Chrome instance is out of scope for unit tests, mirroring how the
// teacher's own web.go has no test file (its chromedp-driving functions
// are exercised only by higher-level integration, not unit tests).

func TestHashItemsIsStableForSameElementSet(t *testing.T) {
	items := []domItem{{Index: 0, Tag: "a", Type: ""}, {Index: 1, Tag: "button", Type: "submit"}}
	require.Equal(t, hashItems(items), hashItems(items))
}

func TestHashItemsChangesWhenStructureChanges(t *testing.T) {
	a := []domItem{{Index: 0, Tag: "a", Type: ""}}
	b := []domItem{{Index: 0, Tag: "a", Type: ""}, {Index: 1, Tag: "button", Type: ""}}
	require.NotEqual(t, hashItems(a), hashItems(b))
}

func TestResolveKeysMapsNamedKeys(t *testing.T) {
	require.NotEmpty(t, resolveKeys("Enter"))
	require.Equal(t, "\t", resolveKeys("tab"))
	require.Equal(t, "hello", resolveKeys("hello"))
}

func TestFilterByQueryKeepsOnlyMatchingLines(t *testing.T) {
	md := "# Title\n\nSome unrelated line\nThe target phrase is here\nAnother unrelated line"
	out := filterByQuery(md, "target phrase")
	require.Contains(t, out, "target phrase")
	require.NotContains(t, out, "unrelated")
}

func TestFilterByQueryFallsBackToFullTextWhenNoMatch(t *testing.T) {
	md := "line one\nline two"
	out := filterByQuery(md, "nonexistent")
	require.Equal(t, md, out)
}

func TestMustJSONArrayEncodesKeys(t *testing.T) {
	out := mustJSONArray([]string{"a", "b"})
	require.Equal(t, `["a","b"]`, out)
}
