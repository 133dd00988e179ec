package mcp

import "testing"

func TestSanitizeNameReplacesSeparators(t *testing.T) {
	got := sanitizeName("docs server/search tool:v1")
	want := "docs_server_search_tool_v1"
	if got != want {
		t.Fatalf("sanitizeName() = %q, want %q", got, want)
	}
}
