package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Click taps the element at index (§4.4 "tap" -> "click:<index>").
func (b *Browser) Click(ctx context.Context, index int) error {
	sel, err := b.selectorFor(index)
	if err != nil {
		return err
	}
	t := b.current()
	return chromedp.Run(t.ctx, chromedp.Click(sel, chromedp.ByQuery))
}

// TypeText fills the element at index with text, optionally clearing its
// current value first (§4.4 "type_text" -> "input_text:<index>:<text>").
func (b *Browser) TypeText(ctx context.Context, index int, text string, clearFirst bool) error {
	sel, err := b.selectorFor(index)
	if err != nil {
		return err
	}
	t := b.current()
	actions := []chromedp.Action{chromedp.Focus(sel, chromedp.ByQuery)}
	if clearFirst {
		actions = append(actions, chromedp.SetValue(sel, "", chromedp.ByQuery))
	}
	actions = append(actions, chromedp.SendKeys(sel, text, chromedp.ByQuery))
	return chromedp.Run(t.ctx, actions...)
}

// PressKeys sends a raw key sequence to the active tab's focused element,
// reusing the teacher's kb.Enter-style constant lookup for named keys.
func (b *Browser) PressKeys(ctx context.Context, keys string) error {
	t := b.current()
	if t == nil {
		return fmt.Errorf("browser: no active tab")
	}
	return chromedp.Run(t.ctx, chromedp.KeyEvent(resolveKeys(keys)))
}

// resolveKeys maps a small set of named keys to chromedp/kb sequences,
// passing anything else through as literal characters.
func resolveKeys(keys string) string {
	switch strings.ToLower(strings.TrimSpace(keys)) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return "\t"
	case "escape", "esc":
		return "\x1b"
	case "backspace":
		return "\b"
	default:
		return keys
	}
}

// Scroll scrolls the page (index==nil) or a specific element into view,
// by 80% of the viewport height in direction "up"/"down" (§4.4 "scroll").
func (b *Browser) Scroll(ctx context.Context, direction string, index *int) error {
	t := b.current()
	if t == nil {
		return fmt.Errorf("browser: no active tab")
	}
	if index != nil {
		sel, err := b.selectorFor(*index)
		if err != nil {
			return err
		}
		return chromedp.Run(t.ctx, chromedp.ScrollIntoView(sel, chromedp.ByQuery))
	}
	sign := 1
	if strings.EqualFold(direction, "up") {
		sign = -1
	}
	script := fmt.Sprintf("window.scrollBy(0, %d * window.innerHeight * 0.8)", sign)
	return chromedp.Run(t.ctx, chromedp.Evaluate(script, nil))
}

// ScrollToText scrolls the first element whose text contains the given
// string into view.
func (b *Browser) ScrollToText(ctx context.Context, text string) error {
	t := b.current()
	if t == nil {
		return fmt.Errorf("browser: no active tab")
	}
	script := fmt.Sprintf(`(function(){
		var needle = %q.toLowerCase();
		var walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		var node;
		while ((node = walker.nextNode())) {
			if (node.nodeValue && node.nodeValue.toLowerCase().indexOf(needle) !== -1) {
				node.parentElement.scrollIntoView({block: 'center'});
				return true;
			}
		}
		return false;
	})()`, text)
	var found bool
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("text not found on page: %q", text)
	}
	return nil
}

// Select sets a <select> element's value by option value or visible text.
func (b *Browser) Select(ctx context.Context, index int, value string) error {
	sel, err := b.selectorFor(index)
	if err != nil {
		return err
	}
	t := b.current()
	return chromedp.Run(t.ctx, chromedp.SetValue(sel, value, chromedp.ByQuery))
}

// ListOptions reports the <option> labels available under the <select> at
// index, for the model to choose a value before calling Select.
func (b *Browser) ListOptions(ctx context.Context, index int) ([]string, error) {
	sel, err := b.selectorFor(index)
	if err != nil {
		return nil, err
	}
	t := b.current()
	script := fmt.Sprintf(`Array.from(document.querySelector(%q).options || []).map(function(o){ return o.textContent.trim(); })`, sel)
	var opts []string
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(script, &opts)); err != nil {
		return nil, err
	}
	return opts, nil
}

// Upload sets a file <input>'s selected file to path (§4.4 "upload"). path
// is passed to the browser as given; the handler layer does not run it
// through sandbox.SanitizeArg.
func (b *Browser) Upload(ctx context.Context, index int, path string) error {
	sel, err := b.selectorFor(index)
	if err != nil {
		return err
	}
	t := b.current()
	return chromedp.Run(t.ctx, chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery))
}
