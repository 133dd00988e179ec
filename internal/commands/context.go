package commands

import "context"

// PageState is the subset of browser state handlers and the Step Loop need
// to reason about progress; the fuller DOM/screenshot contract lives on
// Browser itself (§6 "Browser collaborator").
type PageState struct {
	URL          string
	Title        string
	ScrollY      int
	ElementCount int
	DOMHash      string
	VisibleText  string
}

// Browser is the contract the Step Loop and every command Handler consume
// from the browser collaborator (spec §6). internal/browser provides the
// chromedp-backed implementation; commands only depends on this interface,
// so the catalog never imports the automation driver directly.
type Browser interface {
	CurrentURL() string
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	State(ctx context.Context) (PageState, error)
	Screenshot(ctx context.Context) ([]byte, error)

	Click(ctx context.Context, index int) error
	TypeText(ctx context.Context, index int, text string, clearFirst bool) error
	PressKeys(ctx context.Context, keys string) error
	Scroll(ctx context.Context, direction string, index *int) error
	ScrollToText(ctx context.Context, text string) error
	Select(ctx context.Context, index int, value string) error
	Upload(ctx context.Context, index int, path string) error

	Extract(ctx context.Context, query string) (string, error)
	ExtractStructured(ctx context.Context, schema map[string]any) (string, error)
	Find(ctx context.Context, query string) (string, error)
	ListOptions(ctx context.Context, index int) ([]string, error)
	Search(ctx context.Context, query string) (string, error)
	WebSearch(ctx context.Context, query string) (string, error)

	FocusTab(ctx context.Context, index int) error
	NewTab(ctx context.Context, url string) (int, error)
	CloseTab(ctx context.Context, index *int) error

	Wait(ctx context.Context, ms int) error
}

// URLPolicy gates navigate/new_tab targets against the allow/block lists
// (spec §4.4, "URL policy").
type URLPolicy interface {
	Allowed(url string) bool
}

// ExecutionContext bundles everything a Handler needs to run one Command.
type ExecutionContext struct {
	Browser Browser
	Policy  URLPolicy
}
