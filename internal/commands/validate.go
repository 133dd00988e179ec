package commands

import "fmt"

// SchemaViolationError reports a Command whose params fail the per-variant
// required-field check (§4.4 "validate-against-schema-with-defaults").
type SchemaViolationError struct {
	Action Action
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation for %q: %s", e.Action, e.Reason)
}

// Validate applies defaults and checks required fields for cmd's variant,
// returning a *SchemaViolationError on failure. Defaults are filled in place.
func Validate(cmd *Command) error {
	switch cmd.Action {
	case ActionTap:
		if cmd.Tap == nil {
			return missing(cmd.Action, "tap")
		}
		if cmd.Tap.Index < 0 {
			return &SchemaViolationError{cmd.Action, "index must be >= 0"}
		}
	case ActionTypeText:
		if cmd.TypeText == nil {
			return missing(cmd.Action, "type_text")
		}
		if cmd.TypeText.Text == "" {
			return &SchemaViolationError{cmd.Action, "text must not be empty"}
		}
	case ActionNavigate:
		if cmd.Navigate == nil || cmd.Navigate.URL == "" {
			return &SchemaViolationError{cmd.Action, "url is required"}
		}
	case ActionScroll:
		if cmd.Scroll == nil {
			cmd.Scroll = &ScrollParams{}
		}
		if cmd.Scroll.Direction == "" {
			cmd.Scroll.Direction = "down"
		}
	case ActionPressKeys:
		if cmd.PressKeys == nil || cmd.PressKeys.Keys == "" {
			return &SchemaViolationError{cmd.Action, "keys is required"}
		}
	case ActionFinish:
		if cmd.Finish == nil {
			cmd.Finish = &FinishParams{}
		}
	case ActionFocusTab:
		if cmd.FocusTab == nil {
			return missing(cmd.Action, "focus_tab")
		}
	case ActionNewTab:
		if cmd.NewTab == nil {
			cmd.NewTab = &NewTabParams{}
		}
	case ActionCloseTab:
		if cmd.CloseTab == nil {
			cmd.CloseTab = &CloseTabParams{}
		}
	case ActionWebSearch:
		if cmd.WebSearch == nil || cmd.WebSearch.Query == "" {
			return &SchemaViolationError{cmd.Action, "query is required"}
		}
	case ActionUpload:
		if cmd.Upload == nil || cmd.Upload.Path == "" {
			return &SchemaViolationError{cmd.Action, "path is required"}
		}
	case ActionSelect:
		if cmd.Select == nil {
			return missing(cmd.Action, "select")
		}
	case ActionReadPage, ActionCapture:
		// no params
	case ActionWait:
		if cmd.Wait == nil || cmd.Wait.Ms <= 0 {
			return &SchemaViolationError{cmd.Action, "ms must be > 0"}
		}
	case ActionScrollTo:
		if cmd.ScrollTo == nil || cmd.ScrollTo.Text == "" {
			return &SchemaViolationError{cmd.Action, "text is required"}
		}
	case ActionFind:
		if cmd.Find == nil || cmd.Find.Query == "" {
			return &SchemaViolationError{cmd.Action, "query is required"}
		}
	case ActionSearch:
		if cmd.Search == nil || cmd.Search.Query == "" {
			return &SchemaViolationError{cmd.Action, "query is required"}
		}
	case ActionListOptions:
		if cmd.ListOptions == nil {
			return missing(cmd.Action, "list_options")
		}
	case ActionPickOption:
		if cmd.PickOption == nil {
			return missing(cmd.Action, "pick_option")
		}
	case ActionExtract:
		if cmd.Extract == nil {
			cmd.Extract = &ExtractParams{}
		}
	case ActionExtractStructured:
		if cmd.ExtractStructured == nil || len(cmd.ExtractStructured.Schema) == 0 {
			return &SchemaViolationError{cmd.Action, "schema is required"}
		}
	case ActionBack:
		// no params
	default:
		return &SchemaViolationError{cmd.Action, "unknown action"}
	}
	return nil
}

func missing(action Action, field string) error {
	return &SchemaViolationError{action, field + " params are required"}
}
