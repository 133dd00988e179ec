package stepper

import (
	"encoding/json"
	"fmt"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/llm"
)

// ToolSchemas renders the catalog's registered actions as llm.ToolSchema
// values the model collaborator's Chat/ChatStream calls advertise, grounded
// on the teacher engine's per-step "schemas := e.Tools.Schemas()" idiom
// (internal/agent/engine.go).
func ToolSchemas(catalog *commands.Catalog) []llm.ToolSchema {
	actions := catalog.Actions()
	schemas := make([]llm.ToolSchema, 0, len(actions))
	for _, a := range actions {
		schemas = append(schemas, llm.ToolSchema{
			Name:        string(a),
			Description: descriptionFor(a),
			Parameters:  parameterSchemaFor(a),
		})
	}
	return schemas
}

func descriptionFor(a commands.Action) string {
	switch a {
	case commands.ActionTap:
		return "Click/tap the element at the given index in the current page's element map."
	case commands.ActionTypeText:
		return "Type text into the input element at the given index."
	case commands.ActionNavigate:
		return "Navigate the active tab to a URL."
	case commands.ActionBack:
		return "Go back to the previous page in browser history."
	case commands.ActionScroll:
		return "Scroll the page or a specific scrollable element up or down."
	case commands.ActionPressKeys:
		return "Send a key combination to the focused element (e.g. Enter, Tab)."
	case commands.ActionExtract:
		return "Extract readable text content from the current page, optionally narrowed by a query."
	case commands.ActionExtractStructured:
		return "Extract content from the current page matching a caller-supplied JSON schema."
	case commands.ActionFinish:
		return "Stop the run and report the final answer."
	case commands.ActionFocusTab:
		return "Switch the active tab."
	case commands.ActionNewTab:
		return "Open a new browser tab, optionally navigating it to a URL."
	case commands.ActionCloseTab:
		return "Close a browser tab."
	case commands.ActionWebSearch:
		return "Run a web search query and summarize the results."
	case commands.ActionUpload:
		return "Upload a local file into a file-input element at the given index."
	case commands.ActionSelect:
		return "Set a select/dropdown element's value."
	case commands.ActionCapture:
		return "Capture a screenshot of the current viewport."
	case commands.ActionReadPage:
		return "Read the current page's visible text without extraction/summarization."
	case commands.ActionWait:
		return "Wait for a fixed number of milliseconds before continuing."
	case commands.ActionScrollTo:
		return "Scroll until an element containing the given text is in view."
	case commands.ActionFind:
		return "Locate an element or passage on the page matching a natural-language description."
	case commands.ActionSearch:
		return "Search within the current page's content for a query."
	case commands.ActionListOptions:
		return "List the options available in a select/dropdown element."
	case commands.ActionPickOption:
		return "Choose an option by visible text from a select/dropdown element."
	default:
		return fmt.Sprintf("Execute the %q command.", a)
	}
}

// parameterSchemaFor returns a minimal OpenAI-function-call-shaped JSON
// schema for a's params struct. Hand-built rather than reflected/derived
// from a schema library, matching this repo's validate.go approach — see
// DESIGN.md's stdlib-justification entry for why no schema library is used.
func parameterSchemaFor(a commands.Action) map[string]any {
	obj := func(props map[string]any, required ...string) map[string]any {
		m := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			m["required"] = required
		}
		return m
	}
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}
	boolean := map[string]any{"type": "boolean"}

	switch a {
	case commands.ActionTap:
		return obj(map[string]any{"index": num}, "index")
	case commands.ActionTypeText:
		return obj(map[string]any{"index": num, "text": str, "clearFirst": boolean}, "index", "text")
	case commands.ActionNavigate:
		return obj(map[string]any{"url": str}, "url")
	case commands.ActionScroll:
		return obj(map[string]any{"direction": str, "index": num})
	case commands.ActionPressKeys:
		return obj(map[string]any{"keys": str}, "keys")
	case commands.ActionExtract:
		return obj(map[string]any{"query": str})
	case commands.ActionExtractStructured:
		return obj(map[string]any{"schema": map[string]any{"type": "object"}}, "schema")
	case commands.ActionFinish:
		return obj(map[string]any{"success": boolean, "text": str})
	case commands.ActionFocusTab:
		return obj(map[string]any{"index": num}, "index")
	case commands.ActionNewTab:
		return obj(map[string]any{"url": str})
	case commands.ActionCloseTab:
		return obj(map[string]any{"index": num})
	case commands.ActionWebSearch:
		return obj(map[string]any{"query": str}, "query")
	case commands.ActionUpload:
		return obj(map[string]any{"index": num, "path": str}, "index", "path")
	case commands.ActionSelect:
		return obj(map[string]any{"index": num, "value": str}, "index", "value")
	case commands.ActionWait:
		return obj(map[string]any{"ms": num}, "ms")
	case commands.ActionScrollTo:
		return obj(map[string]any{"text": str}, "text")
	case commands.ActionFind:
		return obj(map[string]any{"query": str}, "query")
	case commands.ActionSearch:
		return obj(map[string]any{"query": str}, "query")
	case commands.ActionListOptions:
		return obj(map[string]any{"index": num}, "index")
	case commands.ActionPickOption:
		return obj(map[string]any{"index": num, "text": str}, "index", "text")
	default:
		return obj(map[string]any{})
	}
}

// ParseCommand converts one model-issued tool call back into a typed
// Command by unmarshaling its Args into the variant matching tc.Name.
func ParseCommand(tc llm.ToolCall) (commands.Command, error) {
	cmd := commands.Command{Action: commands.Action(tc.Name), Raw: json.RawMessage(tc.Args)}
	var err error
	switch cmd.Action {
	case commands.ActionTap:
		cmd.Tap, err = unmarshalAs[commands.TapParams](tc.Args)
	case commands.ActionTypeText:
		cmd.TypeText, err = unmarshalAs[commands.TypeTextParams](tc.Args)
	case commands.ActionNavigate:
		cmd.Navigate, err = unmarshalAs[commands.NavigateParams](tc.Args)
	case commands.ActionScroll:
		cmd.Scroll, err = unmarshalAs[commands.ScrollParams](tc.Args)
	case commands.ActionPressKeys:
		cmd.PressKeys, err = unmarshalAs[commands.PressKeysParams](tc.Args)
	case commands.ActionExtract:
		cmd.Extract, err = unmarshalAs[commands.ExtractParams](tc.Args)
	case commands.ActionExtractStructured:
		cmd.ExtractStructured, err = unmarshalAs[commands.ExtractStructuredParams](tc.Args)
	case commands.ActionFinish:
		cmd.Finish, err = unmarshalAs[commands.FinishParams](tc.Args)
	case commands.ActionFocusTab:
		cmd.FocusTab, err = unmarshalAs[commands.FocusTabParams](tc.Args)
	case commands.ActionNewTab:
		cmd.NewTab, err = unmarshalAs[commands.NewTabParams](tc.Args)
	case commands.ActionCloseTab:
		cmd.CloseTab, err = unmarshalAs[commands.CloseTabParams](tc.Args)
	case commands.ActionWebSearch:
		cmd.WebSearch, err = unmarshalAs[commands.WebSearchParams](tc.Args)
	case commands.ActionUpload:
		cmd.Upload, err = unmarshalAs[commands.UploadParams](tc.Args)
	case commands.ActionSelect:
		cmd.Select, err = unmarshalAs[commands.SelectParams](tc.Args)
	case commands.ActionWait:
		cmd.Wait, err = unmarshalAs[commands.WaitParams](tc.Args)
	case commands.ActionScrollTo:
		cmd.ScrollTo, err = unmarshalAs[commands.ScrollToParams](tc.Args)
	case commands.ActionFind:
		cmd.Find, err = unmarshalAs[commands.FindParams](tc.Args)
	case commands.ActionSearch:
		cmd.Search, err = unmarshalAs[commands.SearchParams](tc.Args)
	case commands.ActionListOptions:
		cmd.ListOptions, err = unmarshalAs[commands.ListOptionsParams](tc.Args)
	case commands.ActionPickOption:
		cmd.PickOption, err = unmarshalAs[commands.PickOptionParams](tc.Args)
	case commands.ActionReadPage, commands.ActionCapture, commands.ActionBack:
		// no params to parse
	}
	if err != nil {
		return cmd, fmt.Errorf("parsing args for %q: %w", tc.Name, err)
	}
	return cmd, nil
}

func unmarshalAs[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		var zero T
		return &zero, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
