package commands

import "github.com/rs/zerolog/log"

// Catalog is a name-keyed registry of Handlers, generalizing the teacher's
// tools.Registry (one name -> one callable) to the Command tagged-variant
// model: registration is idempotent by name, and re-registering the same
// name logs a warning and lets the later registration win, matching the
// teacher's registry semantics for duplicate tool names.
type Catalog struct {
	handlers map[Action]Handler
}

// NewCatalog builds a Catalog pre-populated with every built-in action
// handler (§4.4).
func NewCatalog() *Catalog {
	c := &Catalog{handlers: make(map[Action]Handler)}
	for action, h := range builtinHandlers() {
		c.Register(action, h)
	}
	return c
}

func builtinHandlers() map[Action]Handler {
	return map[Action]Handler{
		ActionTap:               handleTap,
		ActionTypeText:          handleTypeText,
		ActionNavigate:          handleNavigate,
		ActionBack:              handleBack,
		ActionScroll:            handleScroll,
		ActionPressKeys:         handlePressKeys,
		ActionExtract:           handleExtract,
		ActionFinish:            handleFinish,
		ActionFocusTab:          handleFocusTab,
		ActionNewTab:            handleNewTab,
		ActionCloseTab:          handleCloseTab,
		ActionWebSearch:         handleWebSearch,
		ActionUpload:            handleUpload,
		ActionSelect:            handleSelect,
		ActionCapture:           handleCapture,
		ActionReadPage:          handleReadPage,
		ActionWait:              handleWait,
		ActionScrollTo:          handleScrollTo,
		ActionFind:              handleFind,
		ActionSearch:            handleSearch,
		ActionListOptions:       handleListOptions,
		ActionPickOption:        handlePickOption,
		ActionExtractStructured: handleExtractStructured,
	}
}

// Register adds or replaces the handler for action. A second registration
// of the same action wins over the first but is logged, so a caller
// overriding a built-in handler (e.g. in tests) sees it was intentional.
func (c *Catalog) Register(action Action, h Handler) {
	if _, exists := c.handlers[action]; exists {
		log.Warn().Str("action", string(action)).Msg("commands: overriding existing handler registration")
	}
	c.handlers[action] = h
}

// Lookup returns the handler registered for action, if any.
func (c *Catalog) Lookup(action Action) (Handler, bool) {
	h, ok := c.handlers[action]
	return h, ok
}

// Actions returns every registered action name.
func (c *Catalog) Actions() []Action {
	out := make([]Action, 0, len(c.handlers))
	for a := range c.handlers {
		out = append(out, a)
	}
	return out
}
