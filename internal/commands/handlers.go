package commands

import (
	"context"
	"fmt"
)

// Handler executes one validated Command against an ExecutionContext.
type Handler func(ctx context.Context, ec *ExecutionContext, cmd Command) Result

func ok(content string) Result {
	return Result{Success: true, ExtractedContent: content, IncludeInMemory: content != ""}
}

func fail(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

func handleTap(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Click(ctx, cmd.Tap.Index); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleTypeText(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	p := cmd.TypeText
	if err := ec.Browser.TypeText(ctx, p.Index, p.Text, p.ClearFirst); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleNavigate(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	url := cmd.Navigate.URL
	if ec.Policy != nil && !ec.Policy.Allowed(url) {
		return fail(&URLBlockedError{URL: url})
	}
	if err := ec.Browser.Navigate(ctx, url); err != nil {
		return fail(&NavigationFailedError{URL: url, Reason: err.Error()})
	}
	return ok("")
}

func handleBack(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Back(ctx); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleScroll(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Scroll(ctx, cmd.Scroll.Direction, cmd.Scroll.Index); err != nil {
		return fail(err)
	}
	return ok("")
}

func handlePressKeys(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.PressKeys(ctx, cmd.PressKeys.Keys); err != nil {
		return fail(err)
	}
	return ok("")
}

// handleExtract reads page content and narrows it to cmd's query, per
// §4.4's "notable handler" description of extract as a readability pass
// plus an optional relevance filter.
func handleExtract(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	content, err := ec.Browser.Extract(ctx, cmd.Extract.Query)
	if err != nil {
		return fail(err)
	}
	return ok(content)
}

func handleExtractStructured(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	content, err := ec.Browser.ExtractStructured(ctx, cmd.ExtractStructured.Schema)
	if err != nil {
		return fail(err)
	}
	return ok(content)
}

// handleFind locates indexed elements whose text contains the query
// (case-insensitive substring match) and reports back their index/content so
// a follow-up tap or scroll_to can target them (§4.4).
func handleFind(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	found, err := ec.Browser.Find(ctx, cmd.Find.Query)
	if err != nil {
		return fail(err)
	}
	return ok(found)
}

func handleScrollTo(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.ScrollToText(ctx, cmd.ScrollTo.Text); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleListOptions(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	opts, err := ec.Browser.ListOptions(ctx, cmd.ListOptions.Index)
	if err != nil {
		return fail(err)
	}
	out := ""
	for i, o := range opts {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%d: %s", i, o)
	}
	return ok(out)
}

func handlePickOption(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Select(ctx, cmd.PickOption.Index, cmd.PickOption.Text); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleSelect(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Select(ctx, cmd.Select.Index, cmd.Select.Value); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleFocusTab(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.FocusTab(ctx, cmd.FocusTab.Index); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleNewTab(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	url := ""
	if cmd.NewTab != nil {
		url = cmd.NewTab.URL
	}
	if url != "" && ec.Policy != nil && !ec.Policy.Allowed(url) {
		return fail(&URLBlockedError{URL: url})
	}
	idx, err := ec.Browser.NewTab(ctx, url)
	if err != nil {
		return fail(err)
	}
	return ok(fmt.Sprintf("opened tab %d", idx))
}

func handleCloseTab(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	var idx *int
	if cmd.CloseTab != nil {
		idx = cmd.CloseTab.Index
	}
	if err := ec.Browser.CloseTab(ctx, idx); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleWebSearch(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	out, err := ec.Browser.WebSearch(ctx, cmd.WebSearch.Query)
	if err != nil {
		return fail(err)
	}
	return ok(out)
}

func handleSearch(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	out, err := ec.Browser.Search(ctx, cmd.Search.Query)
	if err != nil {
		return fail(err)
	}
	return ok(out)
}

func handleUpload(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Upload(ctx, cmd.Upload.Index, cmd.Upload.Path); err != nil {
		return fail(err)
	}
	return ok("")
}

func handleReadPage(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	state, err := ec.Browser.State(ctx)
	if err != nil {
		return fail(err)
	}
	return ok(state.VisibleText)
}

func handleCapture(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	shot, err := ec.Browser.Screenshot(ctx)
	if err != nil {
		return fail(err)
	}
	return Result{Success: true, ExtractedContent: fmt.Sprintf("%d bytes captured", len(shot))}
}

func handleWait(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	if err := ec.Browser.Wait(ctx, cmd.Wait.Ms); err != nil {
		return fail(err)
	}
	return ok("")
}

// handleFinish terminates the sequence and the step loop's iteration
// (§4.1 "termination"); IsDone is the signal the executor checks to stop
// mid-sequence and the Step Loop checks to stop the run.
func handleFinish(ctx context.Context, ec *ExecutionContext, cmd Command) Result {
	text := ""
	if cmd.Finish != nil {
		text = cmd.Finish.Text
	}
	success := true
	if cmd.Finish != nil && cmd.Finish.Success != nil {
		success = *cmd.Finish.Success
	}
	return Result{Success: success, ExtractedContent: text, IsDone: true, IncludeInMemory: true}
}
