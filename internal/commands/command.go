// Package commands implements the Command Catalog & Executor (spec §4.4):
// a name-keyed registry of action handlers, sequence execution with a
// per-step cap and termination rule, and browser/automation error
// classification. Grounded on the teacher's tools.Registry pattern
// (name-keyed dispatch table) generalized from a single Tool interface to
// the spec's richer tagged-command-variant contract.
package commands

import "encoding/json"

// Action is the discriminator for the closed Command variant set (§3).
type Action string

const (
	ActionTap               Action = "tap"
	ActionTypeText          Action = "type_text"
	ActionNavigate          Action = "navigate"
	ActionBack              Action = "back"
	ActionScroll            Action = "scroll"
	ActionPressKeys         Action = "press_keys"
	ActionExtract           Action = "extract"
	ActionFinish            Action = "finish"
	ActionFocusTab          Action = "focus_tab"
	ActionNewTab            Action = "new_tab"
	ActionCloseTab          Action = "close_tab"
	ActionWebSearch         Action = "web_search"
	ActionUpload            Action = "upload"
	ActionSelect            Action = "select"
	ActionCapture           Action = "capture"
	ActionReadPage          Action = "read_page"
	ActionWait              Action = "wait"
	ActionScrollTo          Action = "scroll_to"
	ActionFind              Action = "find"
	ActionSearch            Action = "search"
	ActionListOptions       Action = "list_options"
	ActionPickOption        Action = "pick_option"
	ActionExtractStructured Action = "extract_structured"
)

// Command is a tagged variant: Action selects which of the typed parameter
// fields is populated. Only the field matching Action is meaningful; this
// mirrors a closed union with one struct per variant plus a discriminator,
// the systems-language rendering spec §9 calls for.
type Command struct {
	Action Action `json:"action"`

	Tap               *TapParams               `json:"-"`
	TypeText          *TypeTextParams          `json:"-"`
	Navigate          *NavigateParams          `json:"-"`
	Scroll            *ScrollParams            `json:"-"`
	PressKeys         *PressKeysParams         `json:"-"`
	Extract           *ExtractParams           `json:"-"`
	Finish            *FinishParams            `json:"-"`
	FocusTab          *FocusTabParams          `json:"-"`
	NewTab            *NewTabParams            `json:"-"`
	CloseTab          *CloseTabParams          `json:"-"`
	WebSearch         *WebSearchParams         `json:"-"`
	Upload            *UploadParams            `json:"-"`
	Select            *SelectParams            `json:"-"`
	ReadPage          *ReadPageParams          `json:"-"`
	Wait              *WaitParams              `json:"-"`
	ScrollTo          *ScrollToParams          `json:"-"`
	Find              *FindParams              `json:"-"`
	Search            *SearchParams            `json:"-"`
	ListOptions       *ListOptionsParams       `json:"-"`
	PickOption        *PickOptionParams        `json:"-"`
	ExtractStructured *ExtractStructuredParams `json:"-"`

	// Raw carries the unparsed params for custom/registered variants not
	// covered by a named field above, and as the dispatch input the catalog
	// validates against each entry's schema.
	Raw json.RawMessage `json:"-"`
}

type TapParams struct {
	Index int     `json:"index"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
}

type TypeTextParams struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	ClearFirst bool   `json:"clearFirst,omitempty"`
}

type NavigateParams struct {
	URL string `json:"url"`
}

type ScrollParams struct {
	Direction string `json:"direction"`
	Index     *int   `json:"index,omitempty"`
}

type PressKeysParams struct {
	Keys string `json:"keys"`
}

type ExtractParams struct {
	Query  string         `json:"query,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

type FinishParams struct {
	Success *bool  `json:"success,omitempty"`
	Text    string `json:"text"`
}

type FocusTabParams struct {
	Index int `json:"index"`
}

type NewTabParams struct {
	URL string `json:"url,omitempty"`
}

type CloseTabParams struct {
	Index *int `json:"index,omitempty"`
}

type WebSearchParams struct {
	Query string `json:"query"`
}

type UploadParams struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

type SelectParams struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

type ReadPageParams struct{}

type WaitParams struct {
	Ms int `json:"ms"`
}

type ScrollToParams struct {
	Text string `json:"text"`
}

type FindParams struct {
	Query string `json:"query"`
}

type SearchParams struct {
	Query string `json:"query"`
}

type ListOptionsParams struct {
	Index int `json:"index"`
}

type PickOptionParams struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type ExtractStructuredParams struct {
	Schema map[string]any `json:"schema"`
}

// Result is the outcome of executing one Command (§3 "CommandResult").
type Result struct {
	Success          bool
	Error            string
	ExtractedContent string
	IsDone           bool
	IncludeInMemory  bool
}
