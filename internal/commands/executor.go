package commands

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ThrottledError signals the model or browser collaborator asked the loop
// to back off before retrying (§4.1 "failure policy").
type ThrottledError struct{ Reason string }

func (e *ThrottledError) Error() string { return "throttled: " + e.Reason }

// Executor dispatches Commands against a Catalog and an ExecutionContext
// (§4.4 "dispatch").
type Executor struct {
	Catalog *Catalog
	Ctx     *ExecutionContext
}

func NewExecutor(catalog *Catalog, ec *ExecutionContext) *Executor {
	return &Executor{Catalog: catalog, Ctx: ec}
}

// Execute looks up cmd's handler, validates params (filling defaults in
// place), and invokes it. An unknown action or a failed validation returns
// a Result carrying the error message rather than panicking the loop.
func (e *Executor) Execute(ctx context.Context, cmd Command) Result {
	// Validate knows only the built-in variants; actions registered on the
	// catalog later (e.g. MCP tools) carry their params in cmd.Raw.
	if _, builtin := builtinHandlers()[cmd.Action]; builtin {
		if err := Validate(&cmd); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
	}
	handler, found := e.Catalog.Lookup(cmd.Action)
	if !found {
		return Result{Success: false, Error: "no handler registered for action: " + string(cmd.Action)}
	}
	return handler(ctx, e.Ctx, cmd)
}

// ExecuteSequence runs cmds in order against the catalog, capping the
// number executed at limit (the step's commandsPerStep budget) and
// stopping early when a Result signals completion or carries a
// non-retryable error (§4.1 "sequence execution").
func (e *Executor) ExecuteSequence(ctx context.Context, cmds []Command, limit int) []Result {
	if limit <= 0 {
		limit = len(cmds)
	}
	results := make([]Result, 0, len(cmds))
	for i, cmd := range cmds {
		if i >= limit {
			log.Debug().Int("limit", limit).Int("requested", len(cmds)).Msg("commands: sequence truncated at per-step cap")
			break
		}
		res := e.Execute(ctx, cmd)
		results = append(results, res)
		if res.IsDone {
			break
		}
		if !res.Success && res.Error != "" {
			class := Classify(classificationSourceError(res.Error))
			if !class.IsRetryable {
				break
			}
		}
	}
	return results
}

// classificationSourceError adapts a Result's plain-string error back into
// an error value so Classify's pattern table can inspect it; Result itself
// only carries a string since it crosses the executor/conversation boundary
// as plain content.
type resultError string

func (e resultError) Error() string { return string(e) }

func classificationSourceError(msg string) error { return resultError(msg) }
